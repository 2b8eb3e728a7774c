package faults

import (
	"context"
	"errors"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"
)

// ClassifyGoogle maps an error returned by the Google API client into the
// taxonomy. The mapping is the one the retry layer depends on:
//
//	429, 5xx, network, context deadline  -> Transient
//	401, 403                             -> Permanent (credentials problem)
//	404                                  -> NotFound
//	everything else                      -> Permanent
//
// Already-classified errors pass through unchanged.
func ClassifyGoogle(err error) error {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTransient, err, "call interrupted")
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests:
			return Wrap(KindTransient, err, "rate limited")
		case gerr.Code >= 500:
			return Wrap(KindTransient, err, "server error %d", gerr.Code)
		case gerr.Code == http.StatusUnauthorized, gerr.Code == http.StatusForbidden:
			return Wrap(KindPermanent, err, "credentials rejected (%d)", gerr.Code)
		case gerr.Code == http.StatusNotFound:
			return Wrap(KindNotFound, err, "not found")
		default:
			return Wrap(KindPermanent, err, "api error %d", gerr.Code)
		}
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return Wrap(KindTransient, err, "network error")
	}

	return Wrap(KindPermanent, err, "unclassified client error")
}
