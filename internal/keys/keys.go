// Package keys stores provider API keys in the user's config directory.
package keys

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"
)

const (
	appName      = "cardgen"
	keysFile     = "keys.json"
	configDirEnv = "CARDGEN_CONFIG_DIR"
)

var (
	ErrKeyNotFound = errors.New("no stored key")
	ErrNoAPIKey    = errors.New("API key required")
)

type Store struct {
	configDir string
}

type Entry struct {
	Key     string    `json:"key"`
	SavedAt time.Time `json:"saved_at,omitempty"`
}

type entries map[string]Entry

func NewStore() (*Store, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	return &Store{configDir: dir}, nil
}

// NewStoreAt uses dir instead of the platform config directory.
func NewStoreAt(dir string) *Store {
	return &Store{configDir: dir}
}

func configDir() (string, error) {
	if dir := os.Getenv(configDirEnv); dir != "" {
		return dir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", appName), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, appName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, appName), nil
	}
}

func (s *Store) Path() string {
	return filepath.Join(s.configDir, keysFile)
}

func (s *Store) load() (entries, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(entries), nil
		}
		return nil, err
	}

	var e entries
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", keysFile, err)
	}
	if e == nil {
		e = make(entries)
	}
	return e, nil
}

// save writes atomically with owner-only permissions.
func (s *Store) save(e entries) error {
	if err := os.MkdirAll(s.configDir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", keysFile, err)
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", keysFile, err)
	}
	return nil
}

func (s *Store) Set(provider, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("key cannot be empty")
	}
	e, err := s.load()
	if err != nil {
		return err
	}
	e[provider] = Entry{Key: key, SavedAt: time.Now().UTC()}
	return s.save(e)
}

// Get returns ErrKeyNotFound when nothing is stored for provider.
func (s *Store) Get(provider string) (string, error) {
	e, err := s.load()
	if err != nil {
		return "", err
	}
	entry, ok := e[provider]
	if !ok || entry.Key == "" {
		return "", fmt.Errorf("%w for %s", ErrKeyNotFound, provider)
	}
	return entry.Key, nil
}

func (s *Store) Delete(provider string) error {
	e, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := e[provider]; !ok {
		return fmt.Errorf("%w for %s", ErrKeyNotFound, provider)
	}
	delete(e, provider)
	return s.save(e)
}

// List returns stored provider names in sorted order.
func (s *Store) List() ([]string, error) {
	e, err := s.load()
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(e)), nil
}

func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// Resolve picks the API key for provider in priority order: the explicit
// value, the stored key, then the first non-empty environment variable. The
// second return value describes where the key came from.
func (s *Store) Resolve(explicit, provider string, envVars ...string) (string, string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit, "command-line flag", nil
	}

	if s != nil {
		if stored, err := s.Get(provider); err == nil {
			return stored, "stored key (" + s.Path() + ")", nil
		}
	}

	for _, name := range envVars {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, "environment variable (" + name + ")", nil
		}
	}

	hint := "run 'cardgen keys set'"
	if len(envVars) > 0 {
		hint += " or set " + envVars[0]
	}
	return "", "", fmt.Errorf("%w: %s", ErrNoAPIKey, hint)
}
