// Package keystore sources the proxy API key from places that are not
// source code: environment variables or the OS keyring. Keys are never
// written to disk in plaintext by this tool.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

// StorageType selects where credentials live.
type StorageType string

const (
	StorageTypeEnv     StorageType = "env"
	StorageTypeKeyring StorageType = "keyring"
)

// EnvVars are checked in order by the env-backed store.
var EnvVars = []string{"PROXYPROBE_API_KEY", "ANTHROPIC_API_KEY"}

// ErrNotFound is returned when no credential is stored.
var ErrNotFound = errors.New("keystore: no API key found")

// Store reads and writes the probe's API key.
type Store interface {
	// Read returns the stored key or ErrNotFound.
	Read(ctx context.Context) (string, error)

	// Write stores the key. Writing an empty string clears the credential.
	Write(ctx context.Context, key string) error
}

// NewStore builds a store for the given storage type.
func NewStore(storage StorageType, keyringService string) (Store, error) {
	switch storage {
	case StorageTypeEnv:
		return &envStore{vars: EnvVars}, nil
	case StorageTypeKeyring:
		if keyringService == "" {
			return nil, errors.New("keyring storage requires a service name")
		}
		return &keyringStore{service: keyringService, user: "api-key"}, nil
	default:
		return nil, fmt.Errorf("unknown credential storage %q (expected: env, keyring)", storage)
	}
}

// envStore reads keys from the environment. It is read-only.
type envStore struct {
	vars []string
}

func (s *envStore) Read(ctx context.Context) (string, error) {
	for _, name := range s.vars {
		if v := os.Getenv(name); v != "" {
			return v, nil
		}
	}
	return "", ErrNotFound
}

func (s *envStore) Write(ctx context.Context, key string) error {
	return errors.New("env storage is read-only; set " + s.vars[0] + " instead")
}

// keyringStore persists the key in the OS keyring.
type keyringStore struct {
	service string
	user    string
}

func (s *keyringStore) Read(ctx context.Context) (string, error) {
	key, err := keyring.Get(s.service, s.user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("reading keyring: %w", err)
	}
	if key == "" {
		return "", ErrNotFound
	}
	return key, nil
}

func (s *keyringStore) Write(ctx context.Context, key string) error {
	if key == "" {
		err := keyring.Delete(s.service, s.user)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("clearing keyring: %w", err)
		}
		return nil
	}
	if err := keyring.Set(s.service, s.user, key); err != nil {
		return fmt.Errorf("writing keyring: %w", err)
	}
	return nil
}
