package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// LocalFileStore keeps each area in its own directory on disk
type LocalFileStore struct {
	dirs map[Area]string
}

func NewLocalFileStore(inputDir, resultDir string) (*LocalFileStore, error) {
	dirs := map[Area]string{
		AreaInput:  inputDir,
		AreaResult: resultDir,
	}

	for area, dir := range dirs {
		if dir == "" {
			return nil, fmt.Errorf("no directory configured for %s files", area)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", area, err)
		}
	}

	log.Info().
		Str("input_dir", inputDir).
		Str("result_dir", resultDir).
		Msg("Local file store initialized")

	return &LocalFileStore{dirs: dirs}, nil
}

func (s *LocalFileStore) path(area Area, name string) (string, error) {
	dir, ok := s.dirs[area]
	if !ok {
		return "", fmt.Errorf("unknown storage area %q", area)
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return ResolvePath(dir, name)
}

// Put writes to a temporary file and renames it so readers never see a partial file
func (s *LocalFileStore) Put(ctx context.Context, area Area, name string, r io.Reader) error {
	target, err := s.path(area, name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}

	log.Debug().
		Str("area", string(area)).
		Str("name", name).
		Int64("size", written).
		Msg("Stored file")

	return nil
}

func (s *LocalFileStore) Open(ctx context.Context, area Area, name string) (io.ReadCloser, error) {
	target, err := s.path(area, name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
		}
		return nil, err
	}

	return f, nil
}

func (s *LocalFileStore) Health(ctx context.Context) error {
	for area, dir := range s.dirs {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("%s directory: %w", area, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s path %q is not a directory", area, dir)
		}
	}
	return nil
}
