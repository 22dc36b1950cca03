package engine

import (
	"errors"
	"fmt"
	"strings"

	"alertline/internal/draft"
	"alertline/internal/dsl"
)

// Reply error codes.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeOwnershipConflict  = "ownership_conflict"
	CodeValidationFailed   = "validation_failed"
	CodeUnresolvedScope    = "unresolved_scope"
	CodePartialPersistence = "partial_persistence"
	CodePersistenceFailed  = "persistence_failed"
	CodeToolException      = "tool_exception"
)

var (
	ErrInvalidRequest = errors.New("user_id and session_id are required")
	ErrNoDraft        = errors.New("no draft for session")
)

// OwnershipError reports a session that belongs to another user.
type OwnershipError = draft.OwnershipError

// ValidationError carries the validator issues of a rejected draft.
type ValidationError struct {
	Issues []dsl.Issue
}

func (e ValidationError) Error() string {
	return "invalid rule: " + dsl.FormatIssues(e.Issues)
}

// UnresolvedScopeError lists requested domains missing from the directory.
type UnresolvedScopeError struct {
	Missing []string
}

func (e UnresolvedScopeError) Error() string {
	return "unresolved domains: " + strings.Join(e.Missing, ", ")
}

// PersistenceError is a failed write that left nothing behind; the user may
// retry.
type PersistenceError struct {
	Stage string
	Err   error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Stage, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

// PartialPersistenceError means the rule row exists but its targets or
// schedule job do not. Nothing rolls it back; it needs manual
// reconciliation.
type PartialPersistenceError struct {
	RuleID string
	Stage  string
	Err    error
}

func (e PartialPersistenceError) Error() string {
	return fmt.Sprintf("rule %s created but %s write failed: %v", e.RuleID, e.Stage, e.Err)
}

func (e PartialPersistenceError) Unwrap() error { return e.Err }

// ReplyError is the machine-readable part of a failed turn.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorReply turns a turn error into the reply shown to the user.
func errorReply(err error) Reply {
	var (
		own     OwnershipError
		invalid ValidationError
		scope   UnresolvedScopeError
		partial PartialPersistenceError
		persist PersistenceError
	)
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return Reply{
			Message: "Falta el usuario o la sesión.",
			Error:   &ReplyError{Code: CodeInvalidRequest, Message: err.Error()},
		}
	case errors.As(err, &own):
		return Reply{
			Message: "Esta conversación pertenece a otro usuario.",
			Error:   &ReplyError{Code: CodeOwnershipConflict, Message: err.Error()},
		}
	case errors.As(err, &invalid):
		return Reply{
			Message: "No puedo crear la alerta aún. Problemas: " + dsl.FormatIssues(invalid.Issues),
			Error:   &ReplyError{Code: CodeValidationFailed, Message: err.Error()},
		}
	case errors.As(err, &scope):
		return Reply{
			Message: fmt.Sprintf("No encuentro estos dominios en tu inventario: [%s]. ¿Quieres darlos de alta o corregir el nombre?",
				strings.Join(scope.Missing, ", ")),
			Error: &ReplyError{Code: CodeUnresolvedScope, Message: err.Error()},
		}
	case errors.As(err, &partial):
		return Reply{
			Message: fmt.Sprintf("La alerta se creó (rule_id=%s) pero no pude completar su configuración (%s). No la vuelvas a crear; la revisaremos manualmente.",
				partial.RuleID, partial.Stage),
			RuleID: partial.RuleID,
			Error:  &ReplyError{Code: CodePartialPersistence, Message: err.Error()},
		}
	case errors.As(err, &persist):
		return Reply{
			Message: "No he podido guardar la alerta. Responde **sí** para reintentar o **no** para cancelar.",
			Error:   &ReplyError{Code: CodePersistenceFailed, Message: err.Error()},
		}
	default:
		return Reply{
			Message: "Ha ocurrido un error interno. Inténtalo de nuevo.",
			Error:   &ReplyError{Code: CodeToolException, Message: err.Error()},
		}
	}
}
