// Package chaterr defines the error kinds the core reports to the session
// loop (§7 of spec.md). Each kind is a distinct type so callers can recover
// it with errors.As instead of string matching — the same pattern the
// teacher uses in handlers/auth.go to sniff a *pgconn.PgError code out of a
// wrapped error.
package chaterr

import "fmt"

// ProtocolError covers an undecodable frame, an unrecognized head, or a
// head sent in the wrong session state.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return e.Reason }

func NewProtocolError(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// AuthError covers identity-service rejection or a missing token. Fatal
// to the session.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return e.Reason }

func NewAuthError(format string, args ...any) *AuthError {
	return &AuthError{Reason: fmt.Sprintf(format, args...)}
}

// AuthorizationError covers a send/see against a room the user does not
// belong to. Reported to the caller; the session continues.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string { return e.Reason }

func NewAuthorizationError(format string, args ...any) *AuthorizationError {
	return &AuthorizationError{Reason: fmt.Sprintf(format, args...)}
}

// StateConflictError covers a duplicate login or an already-bound
// connection address — invariant violations the source treats as fatal.
type StateConflictError struct {
	Reason string
}

func (e *StateConflictError) Error() string { return e.Reason }

func NewStateConflictError(format string, args ...any) *StateConflictError {
	return &StateConflictError{Reason: fmt.Sprintf(format, args...)}
}

// StoreError wraps any failure surfaced by the store gateway (C2).
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

// FabricError covers a broadcast backlog overflow for one subscriber.
// Terminates that forwarder only.
type FabricError struct {
	RoomID uint32
	Reason string
}

func (e *FabricError) Error() string { return fmt.Sprintf("fabric(room=%d): %s", e.RoomID, e.Reason) }

func NewFabricError(roomID uint32, format string, args ...any) *FabricError {
	return &FabricError{RoomID: roomID, Reason: fmt.Sprintf(format, args...)}
}
