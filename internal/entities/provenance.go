package entities

import (
	"fmt"
	"time"
	"unicode"
)

// MaxIDLength is the longest identifier accepted for entities, activities and agents
const MaxIDLength = 512

// Entity represents a PROV entity: an immutable data artifact
// Example: "output.txt" generated by activity "process2"
type Entity struct {
	ID        string    `json:"id"`                 // Content-addressed or caller supplied identifier
	Label     string    `json:"label,omitempty"`    // Human readable label (optional)
	Metadata  Metadata  `json:"metadata"`           // Opaque JSON metadata
	CreatedAt time.Time `json:"createdAt,omitzero"` // Set by the store when zero
}

// Activity represents a PROV activity: a process execution
type Activity struct {
	ID        string     `json:"id"`
	Label     string     `json:"label,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	Metadata  Metadata   `json:"metadata"`
}

// Agent represents a PROV agent: a user or automated actor
type Agent struct {
	ID       string   `json:"id"`
	Metadata Metadata `json:"metadata"`
}

// Validate checks if the entity is valid
func (e *Entity) Validate() error {
	if err := ValidateID("entity", e.ID); err != nil {
		return err
	}
	return nil
}

// Validate checks if the activity is valid
func (a *Activity) Validate() error {
	if err := ValidateID("activity", a.ID); err != nil {
		return err
	}
	if a.StartedAt != nil && a.EndedAt != nil && a.EndedAt.Before(*a.StartedAt) {
		return fmt.Errorf("activity %s ends before it starts", a.ID)
	}
	return nil
}

// Validate checks if the agent is valid
func (a *Agent) Validate() error {
	return ValidateID("agent", a.ID)
}

// ValidateID checks an identifier of the given kind.
// Identifiers must be non-empty, at most MaxIDLength bytes and free of control characters.
func ValidateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s ID is required", kind)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%s ID exceeds %d bytes", kind, MaxIDLength)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%s ID %q contains control characters", kind, id)
		}
	}
	return nil
}
