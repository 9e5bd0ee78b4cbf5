package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SanitizeInput removes null bytes and control characters except newline and tab
func SanitizeInput(input string) string {
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// SanitizePathComponent turns a server-supplied name (artist, album, title)
// into something usable as a single file or directory name.
func SanitizePathComponent(name string) string {
	name = SanitizeInput(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '\n', '\t':
			return '-'
		}
		return r
	}, name)
	name = strings.Trim(name, ". ")
	if name == "" {
		return "unknown"
	}
	return name
}

// ValidateFilePath joins requestedPath onto basePath and rejects anything
// that would land outside basePath.
func ValidateFilePath(basePath, requestedPath string) (string, error) {
	if filepath.IsAbs(requestedPath) || filepath.VolumeName(requestedPath) != "" {
		return "", fmt.Errorf("absolute paths not allowed")
	}
	if len(requestedPath) >= 2 && requestedPath[1] == ':' {
		return "", fmt.Errorf("absolute paths not allowed")
	}
	if strings.Contains(requestedPath, "\x00") {
		return "", fmt.Errorf("path contains null byte")
	}

	cleanBase := filepath.Clean(basePath)
	cleanRequested := filepath.Clean(requestedPath)

	fullPath := filepath.Join(cleanBase, cleanRequested)

	relPath, err := filepath.Rel(cleanBase, fullPath)
	if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt detected")
	}

	return fullPath, nil
}
