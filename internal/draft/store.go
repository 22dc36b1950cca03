// Package draft holds the per-session rule drafts a conversation builds up.
package draft

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alertline/internal/domain"
	"alertline/internal/flow"
)

// DefaultTTL is how long an untouched draft stays visible.
const DefaultTTL = 2 * time.Hour

// Draft is one session's accumulated rule plus its conversation state.
type Draft struct {
	SessionID         string             `json:"session_id"`
	OwnerID           string             `json:"owner_id"`
	State             flow.State         `json:"state"`
	PendingFields     []string           `json:"pending_fields,omitempty"`
	LastQuestionField string             `json:"last_question_field,omitempty"`
	Fields            domain.DraftFields `json:"fields"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

func (d Draft) AwaitingConfirmation() bool { return d.State == flow.AwaitingConfirmation }
func (d Draft) Confirmed() bool            { return d.State == flow.Confirmed }

func (d Draft) clone() Draft {
	out := d
	out.Fields = d.Fields.Clone()
	if d.PendingFields != nil {
		out.PendingFields = append([]string{}, d.PendingFields...)
	}
	return out
}

// Patch is applied by Upsert. Zero-valued control fields leave the stored
// value untouched; a non-nil empty PendingFields clears the list. A
// non-empty ExpectState makes the whole patch conditional on the stored
// state.
type Patch struct {
	Fields            domain.DraftFields
	State             flow.State
	PendingFields     []string
	LastQuestionField string
	ExpectState       flow.State
}

var (
	ErrOwnership     = errors.New("session owned by another user")
	ErrStateConflict = errors.New("draft state changed")
)

// OwnershipError reports a session already claimed by another user.
type OwnershipError struct {
	SessionID string
}

func (e OwnershipError) Error() string {
	return fmt.Sprintf("session %s belongs to another user", e.SessionID)
}

func (e OwnershipError) Is(target error) bool { return target == ErrOwnership }

// StateConflictError is returned when Patch.ExpectState does not match.
type StateConflictError struct {
	SessionID string
	Want, Got flow.State
}

func (e StateConflictError) Error() string {
	return fmt.Sprintf("session %s: expected state %s, found %s", e.SessionID, e.Want, e.Got)
}

func (e StateConflictError) Is(target error) bool { return target == ErrStateConflict }

// Store is the session draft storage used by the engine. Implementations
// must make each call atomic and return copies the caller may mutate.
type Store interface {
	Get(ctx context.Context, sessionID string) (Draft, bool, error)
	Upsert(ctx context.Context, sessionID, ownerID string, p Patch) (Draft, error)
	Clear(ctx context.Context, sessionID string) error
}
