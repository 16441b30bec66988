package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/99designs/keyring"
)

const (
	defaultProfile = "default"
	// accountKey holds the default profile; named profiles use profilePrefix.
	accountKey        = "default"
	profilePrefix     = "profile:"
	profileIndexKey   = "profiles_index"
	currentProfileKey = "current_profile"
)

func profileKey(name string) string {
	if name == "" || name == defaultProfile {
		return accountKey
	}
	return profilePrefix + name
}

// normalizeProfiles trims names and drops blanks and duplicates, keeping
// first-seen order.
func normalizeProfiles(profiles []string) []string {
	var out []string
	for _, p := range profiles {
		p = strings.TrimSpace(p)
		if p != "" && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func orDefault(profile string) string {
	if profile == "" {
		return defaultProfile
	}
	return profile
}

// store is an opened keyring holding profiles, their index and the current
// profile name.
type store struct {
	ring keyring.Keyring
}

func openStore() (*store, error) {
	ring, err := openKeyring(keyringConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return &store{ring: ring}, nil
}

// get reads key; found is false when it does not exist.
func (s *store) get(key string) (data []byte, found bool, err error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return item.Data, true, nil
}

func (s *store) set(key string, data []byte) error {
	return s.ring.Set(keyring.Item{Key: key, Data: data})
}

func (s *store) index() ([]string, error) {
	data, found, err := s.get(profileIndexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile index: %w", err)
	}
	profiles := []string{}
	if !found {
		return profiles, nil
	}
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile index: %w", err)
	}
	return profiles, nil
}

func (s *store) setIndex(profiles []string) error {
	data, err := json.Marshal(profiles)
	if err != nil {
		return fmt.Errorf("failed to marshal profile index: %w", err)
	}
	return s.set(profileIndexKey, data)
}

func (s *store) current() (string, error) {
	data, found, err := s.get(currentProfileKey)
	if err != nil {
		return "", fmt.Errorf("failed to get current profile: %w", err)
	}
	if !found {
		return defaultProfile, nil
	}
	return string(data), nil
}

// SaveProfile stores the account under a named profile and makes it current.
func SaveProfile(profile string, account Account) error {
	profile = orDefault(profile)
	account.APIURL = strings.TrimSuffix(account.APIURL, "/")
	if err := account.Validate(); err != nil {
		return err
	}
	s, err := openStore()
	if err != nil {
		return err
	}
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	if err := s.set(profileKey(profile), data); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	profiles, err := s.index()
	if err != nil {
		return err
	}
	if err := s.setIndex(normalizeProfiles(append(profiles, profile))); err != nil {
		return err
	}
	return s.set(currentProfileKey, []byte(profile))
}

// LoadProfile returns the account stored under profile, or
// ErrNotConfigured.
func LoadProfile(profile string) (Account, error) {
	s, err := openStore()
	if err != nil {
		return Account{}, err
	}
	data, found, err := s.get(profileKey(orDefault(profile)))
	if err != nil {
		return Account{}, fmt.Errorf("failed to get profile: %w", err)
	}
	if !found {
		return Account{}, ErrNotConfigured
	}
	var account Account
	if err := json.Unmarshal(data, &account); err != nil {
		return Account{}, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return account, nil
}

// DeleteProfile removes a stored profile. If it was current, the first
// remaining profile becomes current.
func DeleteProfile(profile string) error {
	profile = orDefault(profile)
	s, err := openStore()
	if err != nil {
		return err
	}
	if err := s.ring.Remove(profileKey(profile)); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("failed to remove profile: %w", err)
	}
	profiles, err := s.index()
	if err != nil {
		return err
	}
	remaining := slices.DeleteFunc(profiles, func(p string) bool { return p == profile })
	if err := s.setIndex(remaining); err != nil {
		return err
	}
	if current, err := s.current(); err == nil && current == profile {
		next := defaultProfile
		if len(remaining) > 0 {
			next = remaining[0]
		}
		_ = s.set(currentProfileKey, []byte(next))
	}
	return nil
}

// ListProfiles returns the known profile names. A default profile saved
// before the index existed is still listed.
func ListProfiles() ([]string, error) {
	s, err := openStore()
	if err != nil {
		return nil, err
	}
	profiles, err := s.index()
	if err != nil || len(profiles) > 0 {
		return profiles, err
	}
	if _, found, _ := s.get(accountKey); found {
		return []string{defaultProfile}, nil
	}
	return profiles, nil
}

// CurrentProfile returns the active profile name.
func CurrentProfile() (string, error) {
	s, err := openStore()
	if err != nil {
		return "", err
	}
	return s.current()
}

// SetCurrentProfile sets the active profile name.
func SetCurrentProfile(profile string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	return s.set(currentProfileKey, []byte(orDefault(profile)))
}
