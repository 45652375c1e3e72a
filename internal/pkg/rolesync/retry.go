package rolesync

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/guildworks/membergate/internal/pkg/discord"
)

// RetryPolicy describes how the actuator retries transient external-API
// failures. It is a standalone value so the timing and classification logic
// can be tested deterministically without real sleeps.
type RetryPolicy struct {
	MaxAttempts int
	Delays      []time.Duration
	Retryable   func(error) bool
}

// DefaultRetryPolicy retries transient failures three times with 1s, 2s and
// 4s delays. Permanent precondition failures are never retried.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delays:      []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
		Retryable:   IsRetryable,
	}
}

// Do runs fn up to MaxAttempts times, sleeping the configured delay after
// each failed retryable attempt. Non-retryable errors surface immediately.
func (p RetryPolicy) Do(ctx context.Context, sleep func(time.Duration), fn func() error) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		sleep(p.delay(attempt))
	}
	return err
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if attempt < len(p.Delays) {
		return p.Delays[attempt]
	}
	if len(p.Delays) == 0 {
		return time.Second
	}
	return p.Delays[len(p.Delays)-1]
}

// IsRetryable classifies an external-API failure. Network errors and 5xx/429
// responses are transient; a missing guild member and other 4xx responses
// are permanent and must not be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, discord.ErrMemberNotFound) {
		return false
	}

	var apiErr *discord.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Unknown failure mode: assume transient so redelivery converges.
	return true
}
