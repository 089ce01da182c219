package kvstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// fileEnvelope is the on-disk form of one key
type fileEnvelope struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// File stores each key as a small JSON file under dir.
// Writes go through a temp file and rename so readers never see a torn value.
type File struct {
	dir string
	now func() time.Time
}

// NewFile creates the directory if needed
func NewFile(dir string) (*File, error) {
	if dir == "" {
		homeDir, _ := os.UserHomeDir()
		dir = filepath.Join(homeDir, ".stockwatch")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w", dir, err)
	}
	return &File{dir: dir, now: time.Now}, nil
}

// WithClock replaces the clock used for expiry (tests)
func (f *File) WithClock(now func() time.Time) *File {
	f.now = now
	return f
}

// path hashes the key so arbitrary key text maps to a safe file name
func (f *File) path(key string) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(f.dir, "kv_"+hex.EncodeToString(hash[:8])+".json")
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}

	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", false, fmt.Errorf("decode %s: %w", key, err)
	}
	if env.Key != key {
		return "", false, nil
	}
	if expired(env.ExpiresAt, f.now()) {
		_ = os.Remove(f.path(key))
		return "", false, nil
	}
	return env.Value, true, nil
}

func (f *File) Set(_ context.Context, key, value string, ttl time.Duration) error {
	data, err := json.MarshalIndent(fileEnvelope{
		Key:       key,
		Value:     value,
		ExpiresAt: expiry(f.now(), ttl),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(f.dir, "kv_*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

func (f *File) Delete(_ context.Context, key string) error {
	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (f *File) Close() error { return nil }

// Dir returns the storage directory (debugging)
func (f *File) Dir() string {
	return f.dir
}
