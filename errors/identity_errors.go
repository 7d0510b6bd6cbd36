// Package errors defines the wire representation of identity errors.
// Domain sentinels stay internal; handlers translate them here so
// clients key off stable codes instead of Go error strings.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/pitlane-app/identity/domain"
)

// IdentityError is the standardized error payload returned by the HTTP
// surface.
type IdentityError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Stable error codes.
const (
	InvalidPayload         = "invalid_payload"
	AlreadyLinked          = "already_linked"
	AlreadyLinkedElsewhere = "already_linked_elsewhere"
	LastAuthMethod         = "last_auth_method"
	NotLinked              = "not_linked"
	AccountNotActive       = "account_not_active"
	AccountNotFound        = "account_not_found"
	EmailInUse             = "email_in_use"
	MergeNotSupported      = "merge_not_supported"
	Conflict               = "conflict"
	StoreUnavailable       = "store_unavailable"
	VerificationFailed     = "verification_failed"
	ServerError            = "server_error"
)

func New(code, description string) *IdentityError {
	return &IdentityError{Code: code, Description: description}
}

func NewInvalidPayload(description string) *IdentityError {
	return New(InvalidPayload, description)
}

func NewServerError(description string) *IdentityError {
	return New(ServerError, description)
}

// FromDomain maps a domain error to its wire payload and HTTP status.
// Unknown errors collapse to an opaque server_error so internals never
// leak.
func FromDomain(err error) (*IdentityError, int) {
	switch {
	case stderrors.Is(err, domain.ErrInvalidPayload):
		return New(InvalidPayload, err.Error()), http.StatusBadRequest
	case stderrors.Is(err, domain.ErrAlreadyLinked):
		return New(AlreadyLinked, err.Error()), http.StatusConflict
	case stderrors.Is(err, domain.ErrAlreadyLinkedElsewhere):
		return New(AlreadyLinkedElsewhere, err.Error()), http.StatusConflict
	case stderrors.Is(err, domain.ErrLastAuthMethod):
		return New(LastAuthMethod, err.Error()), http.StatusConflict
	case stderrors.Is(err, domain.ErrNotLinked):
		return New(NotLinked, err.Error()), http.StatusNotFound
	case stderrors.Is(err, domain.ErrAccountNotActive):
		return New(AccountNotActive, err.Error()), http.StatusForbidden
	case stderrors.Is(err, domain.ErrAccountNotFound):
		return New(AccountNotFound, err.Error()), http.StatusNotFound
	case stderrors.Is(err, domain.ErrEmailInUse):
		return New(EmailInUse, err.Error()), http.StatusConflict
	case stderrors.Is(err, domain.ErrMergeNotSupported):
		return New(MergeNotSupported, err.Error()), http.StatusConflict
	case stderrors.Is(err, domain.ErrConflict):
		return New(Conflict, err.Error()), http.StatusConflict
	case stderrors.Is(err, domain.ErrStoreUnavailable):
		return New(StoreUnavailable, "backing store unavailable"), http.StatusServiceUnavailable
	case stderrors.Is(err, domain.ErrVerificationFailed):
		return New(VerificationFailed, "assertion verification failed"), http.StatusUnauthorized
	default:
		return NewServerError("internal error"), http.StatusInternalServerError
	}
}
