// Package cookies persists browser session cookies between invocations.
// Values come from a logged-in browser profile; they are credentials and
// are stored with owner-only permissions.
package cookies

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mzahmed/gemweb/internal/config"
)

// Store handles cookie storage and retrieval.
type Store struct {
	configDir string
}

func NewStore() (*Store, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	return &Store{configDir: dir}, nil
}

// Path returns the path to the cookies.json file.
func (s *Store) Path() string {
	return filepath.Join(s.configDir, "cookies.json")
}

func (s *Store) load() (map[string]string, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}

	var cookies map[string]string
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("failed to parse cookies.json: %w", err)
	}
	return cookies, nil
}

func (s *Store) save(cookies map[string]string) error {
	if err := os.MkdirAll(s.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return err
	}

	// Owner read/write only; these are live credentials.
	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("failed to write cookies.json: %w", err)
	}
	return nil
}

// Set stores one cookie value.
func (s *Store) Set(name, value string) error {
	cookies, err := s.load()
	if err != nil {
		return err
	}
	cookies[name] = value
	return s.save(cookies)
}

// All returns every stored cookie.
func (s *Store) All() (map[string]string, error) {
	return s.load()
}

// Clear removes the stored cookie file.
func (s *Store) Clear() error {
	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cookies.json: %w", err)
	}
	return nil
}

// MaskValue returns a masked cookie value for display.
func MaskValue(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}
