package faults

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestKindSurvivesWrapping(t *testing.T) {
	err := Transient("sheet fetch failed")
	wrapped := fmt.Errorf("appeals: %w", err)

	assert.Equal(t, KindTransient, KindOf(wrapped))
	assert.True(t, IsTransient(wrapped))
	assert.False(t, IsPermanent(wrapped))
}

func TestBreakerOpenCountsAsTransient(t *testing.T) {
	err := BreakerOpen("appeals")
	assert.True(t, IsBreakerOpen(err))
	assert.True(t, IsTransient(err), "callers must see breaker rejection as retryable")
	assert.Equal(t, KindBreakerOpen, KindOf(err))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(KindPermanent, nil, "whatever"))
}

func TestClassifyGoogle(t *testing.T) {
	cases := []struct {
		name string
		code int
		want Kind
	}{
		{"rate limit", http.StatusTooManyRequests, KindTransient},
		{"server error", http.StatusBadGateway, KindTransient},
		{"unauthorized", http.StatusUnauthorized, KindPermanent},
		{"forbidden", http.StatusForbidden, KindPermanent},
		{"missing", http.StatusNotFound, KindNotFound},
		{"bad request", http.StatusBadRequest, KindPermanent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ClassifyGoogle(&googleapi.Error{Code: tc.code})
			require.Error(t, err)
			assert.Equal(t, tc.want, KindOf(err))
		})
	}
}

func TestClassifyGooglePassesThroughClassified(t *testing.T) {
	orig := NotFound("row for user")
	assert.Same(t, orig, ClassifyGoogle(orig))
}

func TestClassifyGoogleUnknownIsPermanent(t *testing.T) {
	err := ClassifyGoogle(errors.New("weird vendor state"))
	assert.Equal(t, KindPermanent, KindOf(err))
}
