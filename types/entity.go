package types

import "time"

// Entity carries the audit timestamps every persisted record has.
type Entity struct {
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// NewEntity creates an Entity stamped with the current UTC time.
func NewEntity() Entity {
	return EntityAt(time.Now())
}

// EntityAt creates an Entity stamped with t, for callers that run on an
// injected clock.
func EntityAt(t time.Time) Entity {
	t = t.UTC()
	return Entity{CreatedAt: t, UpdatedAt: t}
}

// Touch updates the UpdatedAt timestamp.
func (e *Entity) Touch(t time.Time) {
	e.UpdatedAt = t.UTC()
}
