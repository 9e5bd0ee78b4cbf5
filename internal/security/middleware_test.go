package security

import (
	"path/filepath"
	"testing"
)

func TestInputSanitization(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Remove null bytes", "test\x00data", "testdata"},
		{"Remove control characters", "test\x01\x02data", "testdata"},
		{"Keep newlines and tabs", "test\n\tdata", "test\n\tdata"},
		{"Normal string unchanged", "normal string", "normal string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := SanitizeInput(tt.input); result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestSanitizePathComponent(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"AC/DC", "AC-DC"},
		{"What?", "What-"},
		{"..", "unknown"},
		{"", "unknown"},
		{" Back in Black. ", "Back in Black"},
		{"a:b*c", "a-b-c"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := SanitizePathComponent(tt.input); result != tt.expected {
				t.Errorf("SanitizePathComponent(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestValidateFilePath(t *testing.T) {
	base := filepath.Join("srv", "music")
	tests := []struct {
		name          string
		requestedPath string
		shouldError   bool
	}{
		{"Valid path within base", "album/track.mp3", false},
		{"Dotted name is fine", "..album/track.mp3", false},
		{"Path traversal attempt", "../../etc/passwd", true},
		{"Traversal in the middle", "album/../../x.mp3", true},
		{"Absolute unix path", "/etc/passwd", true},
		{"Absolute Windows path attempt", "C:\\Windows\\System32", true},
		{"Null byte", "a\x00b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateFilePath(base, tt.requestedPath)
			if tt.shouldError && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.shouldError && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}
