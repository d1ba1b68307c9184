package adapter

import (
	"errors"
	"net/http"

	tele "gopkg.in/telebot.v4"

	kit "huddlebot/internal/transport"
)

var unreachable = []error{
	tele.ErrBlockedByUser,
	tele.ErrNotStartedByUser,
	tele.ErrChatNotFound,
	tele.ErrUserIsDeactivated,
}

// classifyErr marks errors meaning "this user cannot be messaged" with
// kit.ErrUnreachable. Anything else is returned unchanged.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range unreachable {
		if errors.Is(err, target) {
			return kit.Unreachable(err)
		}
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == http.StatusForbidden {
		return kit.Unreachable(err)
	}
	return err
}
