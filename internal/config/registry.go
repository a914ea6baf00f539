package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Registry maps story entities to canonical ids.
type Registry struct {
	WorldID          string            `json:"world_id"`
	UserID           string            `json:"user_id"`
	CharacterAliases map[string]string `json:"character_aliases"`
}

// DefaultRegistry returns the built-in entity registry.
func DefaultRegistry() *Registry {
	return &Registry{
		WorldID: "world",
		UserID:  "user_123",
		CharacterAliases: map[string]string{
			"Byleth":   "byleth",
			"Dimitri":  "dimitri",
			"Sylvain":  "sylvain",
			"Annette":  "annette",
			"Dedue":    "dedue",
			"Felix":    "felix",
			"Mercedes": "mercedes",
			"Ashe":     "ashe",
		},
	}
}

// LoadRegistry reads a registry override from a JSON file.
func LoadRegistry(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: entity registry %s: %v", ErrConfig, path, err)
	}
	r := &Registry{}
	if err := json.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("%w: parse entity registry %s: %v", ErrConfig, path, err)
	}
	if r.WorldID == "" {
		r.WorldID = "world"
	}
	if r.UserID == "" {
		r.UserID = "user_123"
	}
	return r, nil
}

// Normalize resolves a surface name to its canonical entity id.
func (r *Registry) Normalize(name string) string {
	name = strings.TrimSpace(name)
	if id, ok := r.CharacterAliases[name]; ok {
		return id
	}
	lower := strings.ToLower(name)
	for alias, id := range r.CharacterAliases {
		if strings.ToLower(alias) == lower {
			return id
		}
	}
	return lower
}

// IsCharacter reports whether the id denotes a story character, as opposed
// to the world or the user.
func (r *Registry) IsCharacter(id string) bool {
	return id != "" && id != r.WorldID && id != r.UserID
}
