package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/anchorsync/internal/ir"
)

// SyncError describes an operation the engine abandoned.
//
// Inbound failures are never returned to adapters; Tick logs them and moves
// on. The local API (AddLocal, SetAuxData, LocalTransformChanged) returns them.
type SyncError struct {
	Code    SyncErrorCode
	Message string
	Entity  ir.EntityID
	Anchor  ir.AnchorID
	Err     error
}

// SyncErrorCode categorizes abandoned operations.
type SyncErrorCode string

const (
	// ErrCodeMalformedEvent marks an inbound event missing required fields.
	ErrCodeMalformedEvent SyncErrorCode = "MALFORMED_EVENT"

	// ErrCodeUnknownTemplate marks a template the resolver could not build.
	ErrCodeUnknownTemplate SyncErrorCode = "UNKNOWN_TEMPLATE"

	// ErrCodeUnknownEntity marks a local call naming an entity not in the graph.
	ErrCodeUnknownEntity SyncErrorCode = "UNKNOWN_ENTITY"

	// ErrCodeMissingAnchor marks an attached entity whose anchor is gone.
	ErrCodeMissingAnchor SyncErrorCode = "MISSING_ANCHOR"

	// ErrCodeShutdown marks a call made after Shutdown.
	ErrCodeShutdown SyncErrorCode = "SHUTDOWN"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Entity != 0 {
		msg += fmt.Sprintf(" (entity=%d)", e.Entity)
	}
	if e.Anchor != 0 {
		msg += fmt.Sprintf(" (anchor=%d)", e.Anchor)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code SyncErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsUnknownTemplate reports whether err is an unresolvable-template error.
func IsUnknownTemplate(err error) bool { return hasCode(err, ErrCodeUnknownTemplate) }

// IsUnknownEntity reports whether err names an entity not in the graph.
func IsUnknownEntity(err error) bool { return hasCode(err, ErrCodeUnknownEntity) }

// IsMalformed reports whether err is a malformed-event error.
func IsMalformed(err error) bool { return hasCode(err, ErrCodeMalformedEvent) }

func newMalformedError(ev ir.Event, cause error) *SyncError {
	return &SyncError{
		Code:    ErrCodeMalformedEvent,
		Message: fmt.Sprintf("dropped %s seq=%d", ev.Kind, ev.Seq),
		Entity:  ev.Entity.ID,
		Anchor:  ev.Anchor,
		Err:     cause,
	}
}

func newTemplateError(id ir.EntityID, template string, cause error) *SyncError {
	return &SyncError{
		Code:    ErrCodeUnknownTemplate,
		Message: fmt.Sprintf("cannot resolve template %q", template),
		Entity:  id,
		Err:     cause,
	}
}

func newUnknownEntityError(id ir.EntityID) *SyncError {
	return &SyncError{
		Code:    ErrCodeUnknownEntity,
		Message: "entity not in graph",
		Entity:  id,
	}
}

func newMissingAnchorError(id ir.EntityID, anchor ir.AnchorID) *SyncError {
	return &SyncError{
		Code:    ErrCodeMissingAnchor,
		Message: "anchor not registered",
		Entity:  id,
		Anchor:  anchor,
	}
}
