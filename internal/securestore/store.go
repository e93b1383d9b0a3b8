// Package securestore keeps the login secrets (API key, login token, email)
// encrypted at rest, next to a plain login timestamp.
package securestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	keyAPI       = "api_key"
	keyToken     = "login_token"
	keyEmail     = "user_email"
	keyLoginTime = "login_time"
	keyInstallID = "installation_id"

	prefsInfo = "tilsyn-prefs"

	// DefaultLoginMaxAge is how long a login stays valid.
	DefaultLoginMaxAge = 90 * 24 * time.Hour
)

var ErrNotFound = errors.New("securestore: value not found")

// Store is a small encrypted preferences file. The AES key is derived from a
// random installation secret kept in "<path>.key".
type Store struct {
	path   string
	master []byte
	key    []byte
	now    func() time.Time

	mu     sync.Mutex
	values map[string]string
}

// Open loads (or creates) the preferences file at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create prefs directory: %w", err)
	}

	master, err := loadOrCreateMaster(path + ".key")
	if err != nil {
		return nil, err
	}
	key, err := deriveKey(master, prefsInfo)
	if err != nil {
		return nil, fmt.Errorf("derive prefs key: %w", err)
	}

	s := &Store{
		path:   path,
		master: master,
		key:    key,
		now:    time.Now,
		values: map[string]string{},
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read prefs: %w", err)
	default:
		if err := json.Unmarshal(raw, &s.values); err != nil {
			// A corrupt file is treated like an empty one.
			s.values = map[string]string{}
		}
	}
	return s, nil
}

func loadOrCreateMaster(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err == nil && len(b) == keySize {
		return b, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read prefs secret: %w", err)
	}
	b, err = randomBytes(keySize)
	if err != nil {
		return nil, fmt.Errorf("generate prefs secret: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return nil, fmt.Errorf("write prefs secret: %w", err)
	}
	return b, nil
}

// DeriveKey returns a key for another purpose (e.g. signing local session
// tokens) derived from the same installation secret.
func (s *Store) DeriveKey(purpose string) ([]byte, error) {
	return deriveKey(s.master, purpose)
}

func (s *Store) persistLocked() error {
	raw, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) saveEncrypted(name, value string) error {
	enc, err := seal(s.key, value)
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = enc
	return s.persistLocked()
}

// loadDecrypted returns ErrNotFound for missing values and for values that no
// longer decrypt.
func (s *Store) loadDecrypted(name string) (string, error) {
	s.mu.Lock()
	enc, ok := s.values[name]
	s.mu.Unlock()
	if !ok {
		return "", ErrNotFound
	}
	v, err := open(s.key, enc)
	if err != nil {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *Store) SaveAPIKey(key string) error { return s.saveEncrypted(keyAPI, key) }
func (s *Store) APIKey() (string, error) { return s.loadDecrypted(keyAPI) }
func (s *Store) SaveToken(token string) error { return s.saveEncrypted(keyToken, token) }
func (s *Store) Token() (string, error) { return s.loadDecrypted(keyToken) }
func (s *Store) SaveEmail(email string) error { return s.saveEncrypted(keyEmail, email) }
func (s *Store) Email() (string, error) { return s.loadDecrypted(keyEmail) }

// SaveLoginTimestamp records "now" as the login time.
func (s *Store) SaveLoginTimestamp() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[keyLoginTime] = strconv.FormatInt(s.now().UnixMilli(), 10)
	return s.persistLocked()
}

// IsLoginExpired reports whether the last login is older than maxAge. A
// missing timestamp counts as expired.
func (s *Store) IsLoginExpired(maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = DefaultLoginMaxAge
	}
	s.mu.Lock()
	raw := s.values[keyLoginTime]
	s.mu.Unlock()

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		ms = 0
	}
	return s.now().Sub(time.UnixMilli(ms)) > maxAge
}

// InstallationID returns a stable random identifier for this installation.
func (s *Store) InstallationID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.values[keyInstallID]; ok && id != "" {
		return id, nil
	}
	id := uuid.New().String()
	s.values[keyInstallID] = id
	return id, s.persistLocked()
}

// ClearAll removes every stored login value. The installation id survives.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.values[keyInstallID]
	s.values = map[string]string{}
	if id != "" {
		s.values[keyInstallID] = id
	}
	return s.persistLocked()
}
