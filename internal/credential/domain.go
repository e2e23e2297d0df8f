package credential

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind distinguishes preparer identifiers.
type Kind string

const (
	KindPTIN Kind = "ptin"
	KindEFIN Kind = "efin"
)

// Status of a preparer credential as reported by the registry.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// PreparerCredential is a registry record. Issuance happens elsewhere; this
// package only answers whether an identifier may be used right now.
type PreparerCredential struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Status      Status    `json:"status"`
	DisplayName string    `json:"displayName"`
	IssuedAt    time.Time `json:"issuedAt"`
	PINHash     string    `json:"pinHash,omitempty"`
}

func (c PreparerCredential) Active() bool {
	return c.Status == StatusActive
}

var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialInactive = errors.New("credential inactive")
	ErrPINMismatch        = errors.New("PIN does not match credential")
)

// Error carries the identifier a credential check failed for.
type Error struct {
	ID  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("credential %s: %v", e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Registry resolves preparer credentials.
type Registry interface {
	// Lookup returns the record for id or an error wrapping ErrCredentialNotFound.
	Lookup(ctx context.Context, id string) (PreparerCredential, error)
}

// RequireActive looks up id and fails unless the credential exists and is
// active. When pin is non-empty and the record carries a PIN hash, the PIN
// must verify as well.
func RequireActive(ctx context.Context, reg Registry, id, pin string) (PreparerCredential, error) {
	cred, err := reg.Lookup(ctx, id)
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			return PreparerCredential{}, err
		}
		return PreparerCredential{}, &Error{ID: id, Err: err}
	}
	if !cred.Active() {
		return PreparerCredential{}, &Error{ID: id, Err: ErrCredentialInactive}
	}
	if pin != "" && cred.PINHash != "" && !VerifyPIN(pin, cred.PINHash) {
		return PreparerCredential{}, &Error{ID: id, Err: ErrPINMismatch}
	}
	return cred, nil
}
