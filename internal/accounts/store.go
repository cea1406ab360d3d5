// Package accounts persists the site accounts and app settings in a single
// JSON file.
package accounts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("account not found")
	ErrNoSelected = errors.New("no account selected")
)

const DefaultJobLocation = "Worldwide"

type AccountType string

const (
	TypeAuto   AccountType = "auto"
	TypeManual AccountType = "manual"
)

type Account struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Email    string      `json:"email,omitempty"`
	Token    *string     `json:"token"`
	Selected bool        `json:"selected"`
	Type     AccountType `json:"type"`
}

// HasToken reports whether the account still holds a usable token.
func (a Account) HasToken() bool {
	return a.Token != nil && *a.Token != ""
}

type Settings struct {
	GetLocations bool   `json:"getLocations"`
	JobLocation  string `json:"jobLocation"`
	RaiseTheHood bool   `json:"raiseTheHood"`
}

type file struct {
	Accounts []Account `json:"accounts"`
	Settings
}

// Store is safe for concurrent use. Every mutation is written to disk
// before it returns.
type Store struct {
	mu       sync.RWMutex
	data     file
	filename string
}

func NewStore(filename string) (*Store, error) {
	s := &Store{
		filename: filename,
		data:     file{Accounts: []Account{}},
	}

	if err := s.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if s.data.JobLocation == "" {
		s.data.JobLocation = DefaultJobLocation
	}

	return s, nil
}

func (s *Store) Load() error {
	data, err := os.ReadFile(s.filename)
	if err != nil {
		return err
	}

	var loaded file
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse %s: %w", s.filename, err)
	}
	if loaded.Accounts == nil {
		loaded.Accounts = []Account{}
	}

	s.mu.Lock()
	s.data = loaded
	s.mu.Unlock()

	return nil
}

func (s *Store) Accounts() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Account, len(s.data.Accounts))
	for i, a := range s.data.Accounts {
		out[i] = a.clone()
	}
	return out
}

func (s *Store) Selected() (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.data.Accounts {
		if a.Selected {
			return a.clone(), true
		}
	}
	return Account{}, false
}

// StoredToken returns the selected account's token and its ID.
func (s *Store) StoredToken() (token, accountID string, err error) {
	acc, ok := s.Selected()
	if !ok {
		return "", "", ErrNoSelected
	}
	if !acc.HasToken() {
		return "", acc.ID, fmt.Errorf("account %q has no token, reconnect it", acc.Name)
	}
	return *acc.Token, acc.ID, nil
}

// AccountToken returns the token of the account with the given ID.
func (s *Store) AccountToken(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.index(id)
	if i < 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	acc := s.data.Accounts[i]
	if !acc.HasToken() {
		return "", fmt.Errorf("account %q has no token, reconnect it", acc.Name)
	}
	return *acc.Token, nil
}

// Add stores a new account. The first account becomes the selected one.
func (s *Store) Add(acc Account) (Account, error) {
	if acc.Name == "" {
		return Account{}, errors.New("account name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if acc.ID == "" {
		acc.ID = uuid.New().String()
	}
	if acc.Type == "" {
		acc.Type = TypeManual
	}
	for _, existing := range s.data.Accounts {
		if existing.ID == acc.ID {
			return Account{}, fmt.Errorf("account %s already exists", acc.ID)
		}
	}

	acc.Selected = len(s.data.Accounts) == 0
	s.data.Accounts = append(s.data.Accounts, acc.clone())

	return acc, s.save()
}

func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index(id) < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for i := range s.data.Accounts {
		s.data.Accounts[i].Selected = s.data.Accounts[i].ID == id
	}
	return s.save()
}

// Remove deletes an account. If it was selected, the first remaining
// account is selected instead.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	wasSelected := s.data.Accounts[i].Selected
	s.data.Accounts = append(s.data.Accounts[:i], s.data.Accounts[i+1:]...)
	if wasSelected && len(s.data.Accounts) > 0 {
		s.data.Accounts[0].Selected = true
	}
	return s.save()
}

// ClearToken drops the token of the given account, or of the selected one
// when id is empty.
func (s *Store) ClearToken(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := -1
	if id == "" {
		for j, a := range s.data.Accounts {
			if a.Selected {
				i = j
				break
			}
		}
		if i < 0 {
			return ErrNoSelected
		}
	} else if i = s.index(id); i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.data.Accounts[i].Token = nil
	return s.save()
}

// SetToken stores a fresh token for an account, e.g. after reconnecting.
func (s *Store) SetToken(id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.data.Accounts[i].Token = &token
	return s.save()
}

func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Settings
}

func (s *Store) UpdateSettings(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.data.Settings)
	if s.data.JobLocation == "" {
		s.data.JobLocation = DefaultJobLocation
	}
	return s.save()
}

func (s *Store) index(id string) int {
	for i, a := range s.data.Accounts {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) save() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmpFile := s.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpFile, s.filename)
}

func (a Account) clone() Account {
	c := a
	if a.Token != nil {
		t := *a.Token
		c.Token = &t
	}
	return c
}
