package errors

import (
	stderrors "errors"
	"net/http"
)

// Kind classifies a domain error by who is at fault and what the caller can do about it.
type Kind string

const (
	// KindValidation is bad input shape or range. Never retried automatically.
	KindValidation Kind = "VALIDATION"
	// KindNotFound means the referenced entity does not exist (or is not visible).
	KindNotFound Kind = "NOT_FOUND"
	// KindStateConflict is an invalid transition or a lost race; retry after re-fetching.
	KindStateConflict Kind = "STATE_CONFLICT"
	// KindResourceExhausted is terminal for the attempt (no slots, no balance).
	KindResourceExhausted Kind = "RESOURCE_EXHAUSTED"
	// KindAuth is missing/invalid credentials or insufficient role.
	KindAuth Kind = "AUTH"
	// KindIntegrity indicates a bug or a concurrent-update bypass. Fatal to the request.
	KindIntegrity Kind = "INTEGRITY"
)

// Error is a classified domain error with a stable machine readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	// ErrInvalidRole is returned when a role is outside the closed role set.
	ErrInvalidRole = newError(KindValidation, "INVALID_ROLE", "invalid role")
	// ErrInvalidCampaign is returned when campaign fields are invalid.
	ErrInvalidCampaign = newError(KindValidation, "INVALID_CAMPAIGN", "invalid campaign")
	// ErrInvalidAmount is returned when an amount is zero, negative or below the minimum.
	ErrInvalidAmount = newError(KindValidation, "INVALID_AMOUNT", "invalid amount")
	// ErrInvalidDecision is returned when a review decision is neither approve nor reject.
	ErrInvalidDecision = newError(KindValidation, "INVALID_DECISION", "decision must be approve or reject")
	// ErrInvalidEntryKind is returned when crediting a kind other than earning or refund.
	ErrInvalidEntryKind = newError(KindValidation, "INVALID_ENTRY_KIND", "entry kind must be earning or refund")
	// ErrInvalidProof is returned when submitted proof is empty.
	ErrInvalidProof = newError(KindValidation, "INVALID_PROOF", "proof is required")
	// ErrInvalidReference is returned when a deposit reference is too long.
	ErrInvalidReference = newError(KindValidation, "INVALID_REFERENCE", "reference must be at most 64 characters")

	// ErrUserNotFound is returned when a user does not exist.
	ErrUserNotFound = newError(KindNotFound, "USER_NOT_FOUND", "user not found")
	// ErrCampaignNotFound is returned when a campaign does not exist.
	ErrCampaignNotFound = newError(KindNotFound, "CAMPAIGN_NOT_FOUND", "campaign not found")
	// ErrSubmissionNotFound is returned when a submission does not exist.
	ErrSubmissionNotFound = newError(KindNotFound, "SUBMISSION_NOT_FOUND", "submission not found")
	// ErrEntryNotFound is returned when a ledger entry does not exist.
	ErrEntryNotFound = newError(KindNotFound, "ENTRY_NOT_FOUND", "ledger entry not found")
	// ErrIncidentNotFound is returned when an incident does not exist.
	ErrIncidentNotFound = newError(KindNotFound, "INCIDENT_NOT_FOUND", "incident not found")

	// ErrDuplicateEmail is returned when registering an email that is already taken.
	ErrDuplicateEmail = newError(KindStateConflict, "DUPLICATE_EMAIL", "email already registered")
	// ErrInvalidTransition is returned when a campaign or ledger entry cannot move to the requested status.
	ErrInvalidTransition = newError(KindStateConflict, "INVALID_TRANSITION", "invalid status transition")
	// ErrCampaignNotActive is returned when claiming a slot on a campaign that is not active.
	ErrCampaignNotActive = newError(KindStateConflict, "CAMPAIGN_NOT_ACTIVE", "campaign is not active")
	// ErrDuplicateClaim is returned when a worker already holds an open submission on the campaign.
	ErrDuplicateClaim = newError(KindStateConflict, "DUPLICATE_CLAIM", "worker already holds an open claim on this campaign")
	// ErrInvalidState is returned when a submission is not in the state required by the operation.
	ErrInvalidState = newError(KindStateConflict, "INVALID_STATE", "submission is not in a valid state for this operation")
	// ErrDeadlineExpired is returned when proof arrives after the claim deadline.
	ErrDeadlineExpired = newError(KindStateConflict, "DEADLINE_EXPIRED", "claim deadline has passed")
	// ErrConcurrentUpdate is returned when an optimistic version check fails.
	ErrConcurrentUpdate = newError(KindStateConflict, "CONCURRENT_UPDATE", "resource was modified concurrently, retry")

	// ErrNoSlotsAvailable is returned when a campaign has no remaining slots.
	ErrNoSlotsAvailable = newError(KindResourceExhausted, "NO_SLOTS_AVAILABLE", "no slots available")
	// ErrInsufficientBalance is returned when a withdrawal or campaign charge exceeds the withdrawable balance.
	ErrInsufficientBalance = newError(KindResourceExhausted, "INSUFFICIENT_BALANCE", "insufficient balance")

	// ErrInvalidCredentials is returned when email or password is incorrect.
	ErrInvalidCredentials = newError(KindAuth, "INVALID_CREDENTIALS", "invalid email or password")
	// ErrUnauthenticated is returned when a session token is missing, invalid, expired or revoked.
	ErrUnauthenticated = newError(KindAuth, "UNAUTHENTICATED", "authentication required")
	// ErrForbidden is returned when the caller's role or ownership does not allow the operation.
	ErrForbidden = newError(KindAuth, "FORBIDDEN", "forbidden")
	// ErrInvalidRefreshToken is returned when a refresh token is invalid or expired.
	ErrInvalidRefreshToken = newError(KindAuth, "INVALID_REFRESH_TOKEN", "invalid or expired refresh token")

	// ErrBudgetExceeded is returned when an approval would spend more than the campaign budget.
	ErrBudgetExceeded = newError(KindIntegrity, "BUDGET_EXCEEDED", "campaign budget exceeded")
	// ErrDuplicateEntry is returned when a ledger entry already exists for the same related event.
	ErrDuplicateEntry = newError(KindIntegrity, "DUPLICATE_ENTRY", "ledger entry already exists")
)

// KindOf returns the Kind of the first classified error in err's chain, or "" when unclassified.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the code of the first classified error in err's chain, or INTERNAL_ERROR.
func CodeOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL_ERROR"
}

// IsIntegrity reports whether err must be escalated for manual review.
func IsIntegrity(err error) bool {
	return KindOf(err) == KindIntegrity
}

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	Redirect string `json:"redirect,omitempty"`
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTP error.
func NewHTTPError(statusCode int, message, code string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
		Code:       code,
	}
}

// ToErrorResponse converts an HTTPError to ErrorResponse.
func (e *HTTPError) ToErrorResponse() ErrorResponse {
	return ErrorResponse{
		Error: e.Message,
		Code:  e.Code,
	}
}

// SupportMessage is shown for integrity failures and unexpected errors; no internal detail leaks.
const SupportMessage = "something went wrong, support has been notified"

// MapErrorToHTTP maps domain errors to HTTP errors.
func MapErrorToHTTP(err error) *HTTPError {
	var e *Error
	if !stderrors.As(err, &e) {
		return NewHTTPError(http.StatusInternalServerError, SupportMessage, "INTERNAL_ERROR")
	}

	switch e.Kind {
	case KindValidation:
		return NewHTTPError(http.StatusBadRequest, e.Message, e.Code)
	case KindNotFound:
		return NewHTTPError(http.StatusNotFound, e.Message, e.Code)
	case KindStateConflict:
		return NewHTTPError(http.StatusConflict, e.Message, e.Code)
	case KindResourceExhausted:
		if e == ErrInsufficientBalance {
			return NewHTTPError(http.StatusUnprocessableEntity, e.Message, e.Code)
		}
		return NewHTTPError(http.StatusConflict, e.Message, e.Code)
	case KindAuth:
		if e == ErrForbidden {
			return NewHTTPError(http.StatusForbidden, e.Message, e.Code)
		}
		return NewHTTPError(http.StatusUnauthorized, e.Message, e.Code)
	default:
		return NewHTTPError(http.StatusInternalServerError, SupportMessage, "INTERNAL_ERROR")
	}
}
