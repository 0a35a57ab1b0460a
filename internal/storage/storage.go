package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidPath is returned when a name would resolve outside its area
	ErrInvalidPath = errors.New("invalid file path")

	// ErrNotExist is returned when a stored file is missing
	ErrNotExist = errors.New("file does not exist")
)

// Area separates uploaded spreadsheets from rendered results
type Area string

const (
	AreaInput  Area = "input"
	AreaResult Area = "result"
)

// FileStore is durable blob storage addressed by area and file name
type FileStore interface {
	Put(ctx context.Context, area Area, name string, r io.Reader) error
	Open(ctx context.Context, area Area, name string) (io.ReadCloser, error)
	Health(ctx context.Context) error
}

// ResolvePath joins name onto base and rejects any result outside base
func ResolvePath(base, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidPath)
	}

	root, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("resolve base %q: %w", base, err)
	}

	target := filepath.Clean(filepath.Join(root, name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}

	return target, nil
}

// ValidateName accepts only a plain file name with no directory parts
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return nil
}
