package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sekailabs/sekai-memory/internal/model"
)

// PredicateSpec constrains one predicate of the structured vocabulary.
type PredicateSpec struct {
	Type model.MemType `json:"type"`
	// ObjectEnum lists the allowed objects; empty means free-form.
	ObjectEnum []string `json:"object_enum,omitempty"`
	// Bidirectional marks relationship predicates that require a
	// roles-swapped counterpart record (checked by the symmetry detector).
	Bidirectional bool `json:"bidirectional,omitempty"`
}

// Vocabulary maps predicate names to their specs.
type Vocabulary map[string]PredicateSpec

// DefaultVocabulary returns the built-in predicate vocabulary.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		"relationship_status": {
			Type: model.MemIC,
			ObjectEnum: []string{
				"started_affair", "affair_acknowledged", "jealous", "suspicious",
				"reconciled", "proprietary_display", "mentor_mask", "confrontation",
				"deception", "manipulation", "betrayal_discovered",
			},
			Bidirectional: true,
		},
		"trusts": {
			Type:          model.MemIC,
			Bidirectional: true,
		},
		"secrecy_pact": {
			Type:          model.MemIC,
			ObjectEnum:    []string{"true", "false"},
			Bidirectional: true,
		},
		"contact": {
			Type:          model.MemIC,
			ObjectEnum:    []string{"exchanged_numbers", "private_meeting", "hotel_rendezvous"},
			Bidirectional: true,
		},
		"evidence": {
			Type:       model.MemIC,
			ObjectEnum: []string{"dedue_found_earring", "public_display", "witnessed_betrayal"},
		},
		"manipulation": {
			Type:       model.MemIC,
			ObjectEnum: []string{"engineered_alibi_and_tryst", "sabotaged_plans", "created_conflict"},
		},
		"alert": {
			Type:       model.MemWM,
			ObjectEnum: []string{"health_alert_circulated", "virus_warning", "company_memo"},
		},
		"world_discussion": {
			Type:       model.MemWM,
			ObjectEnum: []string{"office_dismissive_attitude", "virus_fearmongering", "distant_threat"},
		},
		"office_dynamics": {
			Type:       model.MemWM,
			ObjectEnum: []string{"first_day_energy", "professional_boundaries", "workplace_entanglements"},
		},
	}
}

// LoadVocabulary reads a vocabulary override from a JSON file.
func LoadVocabulary(path string) (Vocabulary, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: predicate vocabulary %s: %v", ErrConfig, path, err)
	}
	v := Vocabulary{}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("%w: parse predicate vocabulary %s: %v", ErrConfig, path, err)
	}
	return v, nil
}

// Bidirectional reports whether the predicate requires a symmetric
// counterpart record.
func (v Vocabulary) Bidirectional(predicate string) bool {
	spec, ok := v[predicate]
	return ok && spec.Bidirectional
}
