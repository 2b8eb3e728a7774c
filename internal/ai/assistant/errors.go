package assistant

import (
	"context"
	"errors"
	"fmt"
	"net"

	openai "github.com/sashabaranov/go-openai"

	"github.com/partnerdesk/backend/internal/faults"
)

// classify maps API transport errors onto the shared taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var f *faults.Fault
	if errors.As(err, &f) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return faults.Transient("assistant call interrupted: %v", err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500:
			return faults.Wrap(faults.KindTransient, err, "assistant api %d", apiErr.HTTPStatusCode)
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return faults.Wrap(faults.KindPermanent, err, "assistant credentials rejected")
		case apiErr.HTTPStatusCode == 404:
			return faults.Wrap(faults.KindNotFound, err, "assistant object missing")
		default:
			return faults.Wrap(faults.KindPermanent, err, "assistant api %d", apiErr.HTTPStatusCode)
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return faults.Wrap(faults.KindTransient, err, "assistant request failed")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return faults.Wrap(faults.KindTransient, err, "assistant network error")
	}
	return faults.Wrap(faults.KindPermanent, err, "assistant call failed")
}

// runError turns a terminal failed run into a classified error. Rate-limit
// and expiry failures are retryable on a fresh run.
func runError(state openai.Run) error {
	code, msg := "", ""
	if state.LastError != nil {
		code = string(state.LastError.Code)
		msg = state.LastError.Message
	}
	base := fmt.Errorf("run %s ended with status %q: %s %s", state.ID, state.Status, code, msg)
	if code == "rate_limit_exceeded" || state.Status == openai.RunStatusExpired {
		return faults.Wrap(faults.KindTransient, base, "assistant run throttled")
	}
	return faults.Wrap(faults.KindPermanent, base, "assistant run failed")
}
