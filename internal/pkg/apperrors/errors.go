package apperrors

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Kind classifies an error for callers that need to pick a response code.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindNotFound
	KindValidation
	KindExternalService
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindExternalService:
		return "external_service"
	default:
		return "internal"
	}
}

// Error is the application error carried from services to handlers.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// Authentication: bad or missing webhook MAC.
func Authentication(msg string, cause error) error { return newError(KindAuthentication, msg, cause) }

// NotFound: unresolvable proposal, tomador, policy or document reference.
func NotFound(msg string, cause error) error { return newError(KindNotFound, msg, cause) }

// Validation: insufficient credit, invalid transition, malformed input.
func Validation(msg string, cause error) error { return newError(KindValidation, msg, cause) }

// External: non-2xx or transport failure from the payment gateway or signature provider.
func External(msg string, cause error) error { return newError(KindExternalService, msg, cause) }

// KindOf returns the kind of the first *Error in the chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsAuthentication(err error) bool  { return KindOf(err) == KindAuthentication }
func IsNotFound(err error) bool        { return KindOf(err) == KindNotFound }
func IsValidation(err error) bool      { return KindOf(err) == KindValidation }
func IsExternalService(err error) bool { return KindOf(err) == KindExternalService }

// HTTPStatus maps an error to the status code used by synchronous endpoints.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuthentication:
		return fiber.StatusUnauthorized
	case KindNotFound:
		return fiber.StatusNotFound
	case KindValidation:
		return fiber.StatusUnprocessableEntity
	case KindExternalService:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// PublicMessage hides internal error text from API clients.
func PublicMessage(err error) string {
	if KindOf(err) == KindInternal {
		return "Internal Server Error"
	}
	return err.Error()
}
