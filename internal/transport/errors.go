package transport

import (
	"errors"
	"fmt"
)

// ErrUnreachable marks failures where the platform refuses to deliver to a
// user: the bot is blocked, the user never started a conversation, the user
// is deactivated or the chat does not exist.
var ErrUnreachable = errors.New("recipient unreachable")

// Unreachable wraps cause so that errors.Is(err, ErrUnreachable) holds while
// the platform error stays inspectable.
func Unreachable(cause error) error {
	if cause == nil {
		return ErrUnreachable
	}
	return fmt.Errorf("%w: %w", ErrUnreachable, cause)
}
