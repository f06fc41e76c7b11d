// Package providererr maps HTTP and SDK failures of AI providers onto the
// domain's provider error causes, so the retry policy can tell them apart.
package providererr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

// maxBodyInError bounds the response body quoted in an error.
const maxBodyInError = 200

// FromStatus classifies a non-2xx HTTP response.
// retryAfter is the raw Retry-After header value, if any.
func FromStatus(provider string, status int, body, retryAfter string) error {
	msg := fmt.Sprintf("%s: status %d: %s", provider, status, domain.Truncate(strings.TrimSpace(body), maxBodyInError))

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrProviderAuth, msg)
	case status == http.StatusTooManyRequests:
		err := fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
		if d := ParseRetryAfter(retryAfter); d > 0 {
			return &domain.RetryHint{After: d, Err: err}
		}
		return err
	case status == http.StatusRequestTimeout || status >= 500:
		return fmt.Errorf("%w: %s", domain.ErrProviderTransient, msg)
	default:
		// Other 4xx responses will not succeed on retry.
		return fmt.Errorf("%w: %s", domain.ErrProvider, msg)
	}
}

// FromTransport classifies a failure to get any response.
// Cancellation is returned unchanged.
func FromTransport(provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrProviderTransient, provider, err)
}

// Malformed reports an unusable response payload.
func Malformed(provider, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", domain.ErrMalformedResponse, provider, fmt.Sprintf(format, args...))
}

// FromOpenAI classifies an error returned by the go-openai client.
func FromOpenAI(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return FromStatus("openai", apiErr.HTTPStatusCode, apiErr.Message, "")
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := string(reqErr.Body)
		if body == "" && reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return FromStatus("openai", reqErr.HTTPStatusCode, body, "")
	}

	return FromTransport("openai", err)
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
