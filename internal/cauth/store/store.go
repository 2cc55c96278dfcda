// Package store persists the snapshot — the accounts/profiles graph that
// is the single source of truth for cauth's credential management.
package store

import (
	"encoding/json"
	"time"

	"github.com/agent-island/cauth/internal/cauth/atomicfile"
)

// Account is a single stored Claude/Codex/Gemini account entry.
type Account struct {
	ID        string    `json:"id"`
	Service   string    `json:"service"`
	Label     string    `json:"label"`
	RootPath  string    `json:"rootPath"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Profile is a user-facing name bound to up to one account per service.
type Profile struct {
	Name            string `json:"name"`
	ClaudeAccountID string `json:"claudeAccountId,omitempty"`
	CodexAccountID  string `json:"codexAccountId,omitempty"`
	GeminiAccountID string `json:"geminiAccountId,omitempty"`
}

// Snapshot is the persisted {accounts, profiles} document.
type Snapshot struct {
	Accounts []Account `json:"accounts"`
	Profiles []Profile `json:"profiles"`
}

// Load reads the snapshot at path. A missing file yields an empty
// snapshot rather than an error.
func Load(path string) (*Snapshot, error) {
	data, ok, err := atomicfile.ReadIfExists(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Snapshot{Accounts: []Account{}, Profiles: []Profile{}}, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	if snap.Accounts == nil {
		snap.Accounts = []Account{}
	}
	if snap.Profiles == nil {
		snap.Profiles = []Profile{}
	}
	return &snap, nil
}

// Save writes the snapshot atomically as pretty-printed JSON.
func Save(path string, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.Write(path, data)
}

// UpsertAccount updates the account matching id in place (preserving list
// position) or appends a new entry.
func (s *Snapshot) UpsertAccount(a Account) {
	for i := range s.Accounts {
		if s.Accounts[i].ID == a.ID {
			s.Accounts[i] = a
			return
		}
	}
	s.Accounts = append(s.Accounts, a)
}

// UpsertProfile updates the profile matching name in place or appends a
// new entry.
func (s *Snapshot) UpsertProfile(p Profile) {
	for i := range s.Profiles {
		if s.Profiles[i].Name == p.Name {
			s.Profiles[i] = p
			return
		}
	}
	s.Profiles = append(s.Profiles, p)
}

// FindAccount returns the account with the given id, if present.
func (s *Snapshot) FindAccount(id string) (Account, bool) {
	for _, a := range s.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return Account{}, false
}

// FindProfile returns the profile with the given name, if present.
func (s *Snapshot) FindProfile(name string) (Profile, bool) {
	for _, p := range s.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// ClaudeAccounts returns only the accounts with service "claude".
func (s *Snapshot) ClaudeAccounts() []Account {
	var out []Account
	for _, a := range s.Accounts {
		if a.Service == "claude" {
			out = append(out, a)
		}
	}
	return out
}
