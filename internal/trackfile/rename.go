package trackfile

import (
	"fmt"
	"io"
	"os"
)

// rename is swapped in tests to simulate cross-device moves.
var rename = os.Rename

// moveFile renames src to dst. When a plain rename fails the file is copied
// to dst.tmp, synced, size-checked and renamed into place before src is
// removed, so dst is never observed half written.
func moveFile(src, dst string) error {
	if err := rename(src, dst); err == nil {
		return nil
	}

	tmp := dst + ".tmp"
	if err := copyFile(src, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", tmp, err)
	}
	if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s after copy: %w", src, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	n, err := io.Copy(out, in)
	if err == nil {
		err = out.Sync()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if n != info.Size() {
		return fmt.Errorf("short copy of %s: %d of %d bytes", src, n, info.Size())
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// removeFile deletes path; a missing file counts as removed.
func removeFile(path string) bool {
	err := os.Remove(path)
	return err == nil || os.IsNotExist(err)
}
