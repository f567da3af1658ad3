package entities

import (
	"fmt"
	"time"
)

// Used records that an activity consumed an entity in a role ("input", "process", ...)
type Used struct {
	ActivityID string `json:"activityId"`
	EntityID   string `json:"entityId"`
	Role       string `json:"role,omitempty"` // Empty means no role
}

// WasGeneratedBy records that an entity was produced by an activity
type WasGeneratedBy struct {
	EntityID   string `json:"entityId"`
	ActivityID string `json:"activityId"`
}

// WasAttributedTo records that an entity is attributed to an agent
type WasAttributedTo struct {
	EntityID string `json:"entityId"`
	AgentID  string `json:"agentId"`
}

// WasAssociatedWith records that an activity ran under an agent's responsibility
type WasAssociatedWith struct {
	ActivityID string `json:"activityId"`
	AgentID    string `json:"agentId"`
	Role       string `json:"role,omitempty"`
}

// WasInformedBy records that the informed activity depends on output of the informer activity
type WasInformedBy struct {
	InformedID string `json:"informedId"`
	InformerID string `json:"informerId"`
}

// String returns a string representation of the fact
// Format: used(activity,entity[,role])
func (u *Used) String() string {
	if u.Role != "" {
		return fmt.Sprintf("used(%s,%s,%s)", u.ActivityID, u.EntityID, u.Role)
	}
	return fmt.Sprintf("used(%s,%s)", u.ActivityID, u.EntityID)
}

// Validate checks if the fact is valid
func (u *Used) Validate() error {
	if err := ValidateID("activity", u.ActivityID); err != nil {
		return err
	}
	return ValidateID("entity", u.EntityID)
}

func (g *WasGeneratedBy) String() string {
	return fmt.Sprintf("wasGeneratedBy(%s,%s)", g.EntityID, g.ActivityID)
}

// Validate checks if the fact is valid
func (g *WasGeneratedBy) Validate() error {
	if err := ValidateID("entity", g.EntityID); err != nil {
		return err
	}
	return ValidateID("activity", g.ActivityID)
}

func (a *WasAttributedTo) String() string {
	return fmt.Sprintf("wasAttributedTo(%s,%s)", a.EntityID, a.AgentID)
}

// Validate checks if the fact is valid
func (a *WasAttributedTo) Validate() error {
	if err := ValidateID("entity", a.EntityID); err != nil {
		return err
	}
	return ValidateID("agent", a.AgentID)
}

func (a *WasAssociatedWith) String() string {
	if a.Role != "" {
		return fmt.Sprintf("wasAssociatedWith(%s,%s,%s)", a.ActivityID, a.AgentID, a.Role)
	}
	return fmt.Sprintf("wasAssociatedWith(%s,%s)", a.ActivityID, a.AgentID)
}

// Validate checks if the fact is valid
func (a *WasAssociatedWith) Validate() error {
	if err := ValidateID("activity", a.ActivityID); err != nil {
		return err
	}
	return ValidateID("agent", a.AgentID)
}

func (i *WasInformedBy) String() string {
	return fmt.Sprintf("wasInformedBy(%s,%s)", i.InformedID, i.InformerID)
}

// Validate checks if the fact is valid
func (i *WasInformedBy) Validate() error {
	if err := ValidateID("informed activity", i.InformedID); err != nil {
		return err
	}
	return ValidateID("informer activity", i.InformerID)
}

// FactBatch groups provenance rows written or deleted in a single transaction.
// Writes apply nodes before relations; deletes apply relations before nodes.
type FactBatch struct {
	Entities          []*Entity            `json:"entities,omitempty"`
	Activities        []*Activity          `json:"activities,omitempty"`
	Agents            []*Agent             `json:"agents,omitempty"`
	WasGeneratedBy    []*WasGeneratedBy    `json:"wasGeneratedBy,omitempty"`
	Used              []*Used              `json:"used,omitempty"`
	WasAttributedTo   []*WasAttributedTo   `json:"wasAttributedTo,omitempty"`
	WasAssociatedWith []*WasAssociatedWith `json:"wasAssociatedWith,omitempty"`
	WasInformedBy     []*WasInformedBy     `json:"wasInformedBy,omitempty"`
}

// Len returns the total number of rows in the batch
func (b *FactBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Entities) + len(b.Activities) + len(b.Agents) +
		len(b.WasGeneratedBy) + len(b.Used) + len(b.WasAttributedTo) +
		len(b.WasAssociatedWith) + len(b.WasInformedBy)
}

// Validate checks every row of the batch
func (b *FactBatch) Validate() error {
	if b.Len() == 0 {
		return fmt.Errorf("at least one provenance fact is required")
	}
	for i, e := range b.Entities {
		if e == nil {
			return fmt.Errorf("entities[%d] is required", i)
		}
		if err := e.Validate(); err != nil {
			return fmt.Errorf("entities[%d]: %w", i, err)
		}
	}
	for i, a := range b.Activities {
		if a == nil {
			return fmt.Errorf("activities[%d] is required", i)
		}
		if err := a.Validate(); err != nil {
			return fmt.Errorf("activities[%d]: %w", i, err)
		}
	}
	for i, a := range b.Agents {
		if a == nil {
			return fmt.Errorf("agents[%d] is required", i)
		}
		if err := a.Validate(); err != nil {
			return fmt.Errorf("agents[%d]: %w", i, err)
		}
	}
	for i, r := range b.WasGeneratedBy {
		if r == nil {
			return fmt.Errorf("wasGeneratedBy[%d] is required", i)
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("wasGeneratedBy[%d]: %w", i, err)
		}
	}
	for i, r := range b.Used {
		if r == nil {
			return fmt.Errorf("used[%d] is required", i)
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("used[%d]: %w", i, err)
		}
	}
	for i, r := range b.WasAttributedTo {
		if r == nil {
			return fmt.Errorf("wasAttributedTo[%d] is required", i)
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("wasAttributedTo[%d]: %w", i, err)
		}
	}
	for i, r := range b.WasAssociatedWith {
		if r == nil {
			return fmt.Errorf("wasAssociatedWith[%d] is required", i)
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("wasAssociatedWith[%d]: %w", i, err)
		}
	}
	for i, r := range b.WasInformedBy {
		if r == nil {
			return fmt.Errorf("wasInformedBy[%d] is required", i)
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("wasInformedBy[%d]: %w", i, err)
		}
	}
	return nil
}

// StampCreated returns a copy of the batch in which entities without a CreatedAt carry now.
// The receiver and the entities it points to are not modified.
func (b *FactBatch) StampCreated(now time.Time) *FactBatch {
	out := *b
	out.Entities = make([]*Entity, len(b.Entities))
	for i, e := range b.Entities {
		if e.CreatedAt.IsZero() {
			cp := *e
			cp.CreatedAt = now
			e = &cp
		}
		out.Entities[i] = e
	}
	return &out
}
