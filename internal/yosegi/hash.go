package yosegi

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"lukechampine.com/blake3"
)

// hashFile returns the lowercase hex SHA-256 of a file's contents. This is
// the content address used throughout the build/extraction fingerprints.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 64*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashString keys download-cache filenames by the hex BLAKE3 digest of s.
// Not part of any fingerprint.
func hashString(s string) string {
	h := blake3.New(32, nil)
	h.Write([]byte(s))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// hashTree fabricates a hash for a directory by hashing the sorted list of
// relative paths and per-file content hashes. Used by link/copy fetches
// whose targets are plain directories.
func hashTree(root string) (string, error) {
	var lines []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." || info.IsDir() {
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			lines = append(lines, rel+" -> "+target)
			return nil
		}
		sum, err := hashFile(path)
		if err != nil {
			return err
		}
		lines = append(lines, rel+" "+sum)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to hash tree %s: %w", root, err)
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
