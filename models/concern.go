package models

import "time"

// ConcernKind is the kind of a concern record.
type ConcernKind string

const (
	// ConcernLock blocks mutations of every entity it is attached to.
	ConcernLock ConcernKind = "lock"

	// ConcernIssue reports a problem that must be addressed.
	ConcernIssue ConcernKind = "issue"
)

// ConcernCause names what produced a concern.
type ConcernCause string

const (
	// CauseConfig is an invalid or missing configuration.
	CauseConfig ConcernCause = "config"

	// CauseImport is a required import without a binding.
	CauseImport ConcernCause = "import"

	// CauseService is a required service that is not installed.
	CauseService ConcernCause = "service"

	// CauseHostComponent is an unsatisfied host-component constraint.
	CauseHostComponent ConcernCause = "host-component"

	// CauseRequires is an unsatisfied requires declaration.
	CauseRequires ConcernCause = "requires"

	// CauseJob is a lock held by a running task.
	CauseJob ConcernCause = "job"
)

// Concern is a lock or issue record. A concern is owned by the entity whose
// state produced it and attached to every entity of the owner's affected set.
type Concern struct {
	// ID is the unique identifier for this concern (UUID v4 format)
	// An empty ID means the concern was never saved
	ID string `json:"id" db:"id"`

	// Kind is lock or issue
	Kind ConcernKind `json:"kind" db:"kind"`

	// Cause names what produced the concern
	Cause ConcernCause `json:"cause" db:"cause"`

	// Name is a human-readable description shown to operators
	Name string `json:"name" db:"name"`

	// Owner is the entity whose state produced the concern
	Owner Ref `json:"owner" db:"owner"`

	// CreatedAt is the timestamp when this concern was created
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Saved reports whether the concern has a persisted identity.
func (c *Concern) Saved() bool {
	return c != nil && c.ID != ""
}
