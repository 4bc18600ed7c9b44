// Package tomlstore keeps cookie jars as one TOML file per profile.
package tomlstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/LinuxSuRen/wechaty/internal/profile"
	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

const (
	fileMode        = 0o600
	dirMode         = 0o700
	tempFilePattern = ".profile-*.toml.tmp"
)

type fileSchema struct {
	Cookies []webschema.Cookie `toml:"cookies"`
}

type Store struct {
	dir string
	mu  sync.RWMutex
}

var _ profile.Store = (*Store)(nil)

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("create profile directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".toml")
}

func (s *Store) Load(ctx context.Context, name string) ([]webschema.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := profile.ValidateName(name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read profile %s: %w", name, err)
	}
	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", name, err)
	}
	return file.Cookies, nil
}

func (s *Store) Save(ctx context.Context, name string, cookies []webschema.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := profile.ValidateName(name); err != nil {
		return err
	}
	data, err := toml.Marshal(fileSchema{Cookies: cookies})
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tempFile, err := os.CreateTemp(s.dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp profile file: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp profile file: %w", err)
	}
	if err := tempFile.Chmod(fileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp profile file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp profile file: %w", err)
	}
	if err := os.Rename(tempName, s.path(name)); err != nil {
		return fmt.Errorf("replace profile file: %w", err)
	}
	cleanup = false
	return nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := profile.ValidateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete profile %s: %w", name, err)
	}
	return nil
}

func (s *Store) Close() error { return nil }
