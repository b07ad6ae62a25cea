package directory

import (
	"fmt"
	"os"
	"strings"

	"notifyrelay/internal/config"
	"notifyrelay/internal/notify"
)

// Seed is the on-disk directory document (YAML or JSON).
type Seed struct {
	Contacts []notify.Contact `json:"contacts"`
	Groups   []notify.Group   `json:"groups"`
}

// Validate rejects duplicate or empty ids and unknown member references.
func (s Seed) Validate() error {
	seen := map[string]bool{}
	for i, c := range s.Contacts {
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("contacts[%d]: id is required", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("contacts[%d]: duplicate id %q", i, c.ID)
		}
		seen[c.ID] = true
	}
	groups := map[string]bool{}
	for i, g := range s.Groups {
		if strings.TrimSpace(g.ID) == "" {
			return fmt.Errorf("groups[%d]: id is required", i)
		}
		if groups[g.ID] {
			return fmt.Errorf("groups[%d]: duplicate id %q", i, g.ID)
		}
		groups[g.ID] = true
		for j, m := range g.Members {
			if !seen[m.ContactID] {
				return fmt.Errorf("groups[%d].members[%d]: unknown contact %q", i, j, m.ContactID)
			}
		}
	}
	return nil
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (Seed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, err
	}
	var s Seed
	if err := config.DecodeStrict(path, b, &s); err != nil {
		return Seed{}, fmt.Errorf("directory %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Seed{}, fmt.Errorf("directory %s: %w", path, err)
	}
	return s, nil
}

// LoadFile builds a Memory directory from a seed file.
func LoadFile(path string) (*Memory, error) {
	s, err := LoadSeed(path)
	if err != nil {
		return nil, err
	}
	m := NewMemory()
	m.Replace(s.Contacts, s.Groups)
	return m, nil
}

// Reload re-reads path into m. On error m is left untouched.
func (m *Memory) Reload(path string) error {
	s, err := LoadSeed(path)
	if err != nil {
		return err
	}
	m.Replace(s.Contacts, s.Groups)
	return nil
}
