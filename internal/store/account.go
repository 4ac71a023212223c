package store

import (
	"fmt"
	"path/filepath"
	"sync"
)

const accountsFile = "accounts.json"

// Profile records the relay-facing identity of a local account: which
// server it is registered with and the relay's canary for that
// registration. No timestamp is recorded.
type Profile struct {
	ServerURL string `json:"server_url"`
	UserID    string `json:"user_id"`
	Canary    string `json:"canary"`
}

// AccountStore persists per-relay account profiles, keyed by
// (server URL, user id) so one identity can register against several
// relays without the profiles colliding.
type AccountStore struct {
	dir string
	mu  sync.Mutex
}

func NewAccountStore(home string) *AccountStore {
	return &AccountStore{dir: home}
}

func (s *AccountStore) path() string { return filepath.Join(s.dir, accountsFile) }

// Save stores or overwrites the profile for (profile.ServerURL, profile.UserID).
func (s *AccountStore) Save(profile Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles := make(map[string]Profile)
	if err := readJSON(s.path(), &profiles); err != nil {
		return err
	}
	profiles[accountKey(profile.ServerURL, profile.UserID)] = profile
	return writeJSON(s.path(), profiles, 0o600)
}

// Load retrieves the profile for (serverURL, userID).
func (s *AccountStore) Load(serverURL, userID string) (Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles := make(map[string]Profile)
	if err := readJSON(s.path(), &profiles); err != nil {
		return Profile{}, false, err
	}
	p, ok := profiles[accountKey(serverURL, userID)]
	return p, ok, nil
}

func accountKey(serverURL, userID string) string {
	return fmt.Sprintf("%s|%s", serverURL, userID)
}
