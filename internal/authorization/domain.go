package authorization

import (
	"context"
	"errors"

	apikeydomain "github.com/smallbiznis/orderguard/internal/apikey/domain"
)

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)

type Service interface {
	// Authorize checks that the key's role grants action on object.
	Authorize(ctx context.Context, key *apikeydomain.APIKey, object string, action string) error
}
