package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolvePath(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "plain file", input: "result.xlsx"},
		{name: "nested file", input: "a/b.xlsx"},
		{name: "parent traversal", input: "../secret", wantErr: true},
		{name: "deep traversal", input: "a/../../secret", wantErr: true},
		{name: "absolute path", input: "/etc/passwd"},
		{name: "base itself", input: ".", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePath(base, tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPath) {
					t.Errorf("err = %v, want ErrInvalidPath", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			rel, _ := filepath.Rel(base, got)
			if strings.HasPrefix(rel, "..") {
				t.Errorf("resolved %q escapes base", got)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, "../x"} {
		if err := ValidateName(bad); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("ValidateName(%q) = %v, want ErrInvalidPath", bad, err)
		}
	}
	if err := ValidateName("2024_01_02__03_04_05__17in.xlsx"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLocalFileStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewLocalFileStore(filepath.Join(dir, "in"), filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("NewLocalFileStore: %v", err)
	}

	if err := store.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}

	if err := store.Put(ctx, AreaResult, "r.xlsx", strings.NewReader("data")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := store.Open(ctx, AreaResult, "r.xlsx")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b, _ := io.ReadAll(rc)
	rc.Close()
	if string(b) != "data" {
		t.Errorf("content = %q", b)
	}

	if _, err := store.Open(ctx, AreaInput, "r.xlsx"); !errors.Is(err, ErrNotExist) {
		t.Errorf("Open in other area err = %v, want ErrNotExist", err)
	}

	if _, err := store.Open(ctx, AreaResult, "../in/r.xlsx"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("traversal err = %v, want ErrInvalidPath", err)
	}

	if err := store.Put(ctx, AreaInput, "../escape.xlsx", strings.NewReader("x")); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("Put traversal err = %v, want ErrInvalidPath", err)
	}
}
