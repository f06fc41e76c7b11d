package providererr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, domain.ErrProviderAuth},
		{http.StatusForbidden, domain.ErrProviderAuth},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
		{http.StatusInternalServerError, domain.ErrProviderTransient},
		{http.StatusBadGateway, domain.ErrProviderTransient},
		{http.StatusRequestTimeout, domain.ErrProviderTransient},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := FromStatus("test", tt.status, "boom", "")
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, domain.ErrProvider)
			assert.Contains(t, err.Error(), "boom")
		})
	}
}

func TestFromStatus_OtherClientErrorsArePermanent(t *testing.T) {
	err := FromStatus("test", http.StatusBadRequest, "bad input", "")
	assert.ErrorIs(t, err, domain.ErrProvider)
	assert.NotErrorIs(t, err, domain.ErrProviderTransient)
	assert.NotErrorIs(t, err, domain.ErrProviderAuth)
}

func TestFromStatus_RetryHint(t *testing.T) {
	err := FromStatus("test", http.StatusTooManyRequests, "", "7")

	var hint *domain.RetryHint
	require.ErrorAs(t, err, &hint)
	assert.Equal(t, 7*time.Second, hint.After)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestFromTransport(t *testing.T) {
	assert.ErrorIs(t, FromTransport("x", errors.New("connection refused")), domain.ErrProviderTransient)
	assert.Equal(t, context.Canceled, FromTransport("x", context.Canceled))
	assert.ErrorIs(t, FromTransport("x", fmt.Errorf("post: %w", context.DeadlineExceeded)), context.DeadlineExceeded)
}

func TestFromOpenAI(t *testing.T) {
	assert.NoError(t, FromOpenAI(nil))

	apiErr := &openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "invalid key"}
	assert.ErrorIs(t, FromOpenAI(fmt.Errorf("wrapped: %w", apiErr)), domain.ErrProviderAuth)

	reqErr := &openai.RequestError{HTTPStatusCode: http.StatusServiceUnavailable, Err: errors.New("unavailable")}
	assert.ErrorIs(t, FromOpenAI(reqErr), domain.ErrProviderTransient)

	assert.ErrorIs(t, FromOpenAI(errors.New("dial tcp: refused")), domain.ErrProviderTransient)
}

func TestMalformed(t *testing.T) {
	err := Malformed("ollama", "got %d vectors", 2)
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
	assert.Contains(t, err.Error(), "got 2 vectors")
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), ParseRetryAfter(""))
	assert.Equal(t, 3*time.Second, ParseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-1"))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon"))

	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	d := ParseRetryAfter(future)
	assert.Greater(t, d, 30*time.Second)
}
