package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gelotto/faceswap-client/internal/auth"
	"github.com/Gelotto/faceswap-client/internal/client"
	"github.com/Gelotto/faceswap-client/internal/models"
)

// ErrInvalidInput is wrapped by every error caught before a network call
var ErrInvalidInput = errors.New("invalid input")

var (
	ErrMissingCredential = fmt.Errorf("%w: %w", ErrInvalidInput, auth.ErrMissingCredential)
	ErrMissingInput      = fmt.Errorf("%w: source and target are required", ErrInvalidInput)
	ErrMissingBaseURL    = fmt.Errorf("%w: base URL is required", ErrInvalidInput)
	ErrNoJobID           = fmt.Errorf("%w: no job id", ErrInvalidInput)
)

// Kind is the failure category surfaced to callers
type Kind int

const (
	KindNone Kind = iota
	KindInvalidInput
	KindUnauthorized
	KindServerError
	KindStreamConnection
	KindIOFailure
	KindCancelled
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalidInput:
		return "invalid input"
	case KindUnauthorized:
		return "unauthorized"
	case KindServerError:
		return "server error"
	case KindStreamConnection:
		return "stream connection failure"
	case KindIOFailure:
		return "io failure"
	case KindCancelled:
		return "cancelled"
	default:
		return "failure"
	}
}

// Classify maps an error onto its failure kind. A 401 on the stream is unauthorized.
func Classify(err error) Kind {
	var apiErr *client.APIError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, client.ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, client.ErrStreamConnection):
		return KindStreamConnection
	case errors.Is(err, models.ErrIOFailure):
		return KindIOFailure
	case errors.As(err, &apiErr):
		return KindServerError
	case errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindFailure
	}
}
