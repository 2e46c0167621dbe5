// Package trigger reads the wake phrase used to prime the decoder.
package trigger

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Load returns the first line of the file at path. A missing file is created
// with fallback as its only content. An empty file yields fallback without
// being rewritten.
func Load(path, fallback string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fallback, create(path, fallback)
	}
	if err != nil {
		return "", fmt.Errorf("trigger: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		if word := strings.TrimSpace(scanner.Text()); word != "" {
			return word, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("trigger: read %s: %w", path, err)
	}
	return fallback, nil
}

func create(path, word string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("trigger: create %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		// Another process created it first; its content wins on the next start.
		return nil
	}
	if err != nil {
		return fmt.Errorf("trigger: create %s: %w", path, err)
	}
	if _, err := f.WriteString(word + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("trigger: write %s: %w", path, err)
	}
	return f.Close()
}
