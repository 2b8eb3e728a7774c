package telegram

import (
	"context"
	"errors"
	"net"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/partnerdesk/backend/internal/faults"
)

// classify maps Bot API errors onto the shared taxonomy. Flood control and
// server errors retry; a revoked token or a user who blocked the bot do not.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var f *faults.Fault
	if errors.As(err, &f) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return faults.Wrap(faults.KindTransient, err, "messenger call interrupted")
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429 || apiErr.Code >= 500:
			return faults.Wrap(faults.KindTransient, err, "messenger api %d", apiErr.Code)
		case apiErr.Code == 401:
			return faults.Wrap(faults.KindFatal, err, "messenger token rejected")
		default:
			return faults.Wrap(faults.KindPermanent, err, "messenger api %d", apiErr.Code)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return faults.Wrap(faults.KindTransient, err, "messenger network error")
	}
	return faults.Wrap(faults.KindTransient, err, "messenger call failed")
}
