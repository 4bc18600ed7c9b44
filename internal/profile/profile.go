// Package profile persists the session cookie jar between runs.
package profile

import (
	"context"
	"fmt"
	"strings"

	"github.com/LinuxSuRen/wechaty/internal/webschema"
)

// Store keeps one ordered cookie jar per profile name.
type Store interface {
	// Load returns the saved jar, or nil when the profile has none.
	Load(ctx context.Context, name string) ([]webschema.Cookie, error)
	Save(ctx context.Context, name string, cookies []webschema.Cookie) error
	Delete(ctx context.Context, name string) error
	Close() error
}

// Jar binds a store to a single profile name.
type Jar struct {
	store Store
	name  string
}

func NewJar(store Store, name string) *Jar {
	return &Jar{store: store, name: name}
}

func (j *Jar) Name() string { return j.name }

func (j *Jar) LoadCookies(ctx context.Context) ([]webschema.Cookie, error) {
	return j.store.Load(ctx, j.name)
}

func (j *Jar) SaveCookies(ctx context.Context, cookies []webschema.Cookie) error {
	return j.store.Save(ctx, j.name, cookies)
}

func (j *Jar) Clear(ctx context.Context) error {
	return j.store.Delete(ctx, j.name)
}

// ValidateName rejects names that cannot be used as a file stem.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("profile: name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("profile: invalid name %q", name)
	}
	return nil
}
