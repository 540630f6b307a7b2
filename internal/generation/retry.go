package generation

import (
	"context"
	"strings"
	"time"

	"github.com/cloo-solutions/closerbrain/internal/logger"
)

// RetryConfig bounds the Retrier. Attempt k (0-indexed) waits BaseDelay * 2^k before
// the next attempt; there is no wait after the final attempt.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig returns 3 attempts with a 2s base delay.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 2 * time.Second}
}

// Delay returns the wait after failed attempt k.
func (c RetryConfig) Delay(attempt int) time.Duration {
	if c.BaseDelay <= 0 || attempt < 0 {
		return 0
	}
	return c.BaseDelay * time.Duration(1<<uint(attempt))
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Retrier wraps a Client with response validation, error classification and
// exponential backoff.
type Retrier struct {
	client Client
	cfg    RetryConfig
	sleep  Sleeper
	log    *logger.Logger
}

// NewRetrier creates a Retrier. A nil logger discards retry logs.
func NewRetrier(client Client, cfg RetryConfig, log *logger.Logger) *Retrier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Retrier{
		client: client,
		cfg:    cfg,
		sleep:  sleepContext,
		log:    log,
	}
}

// WithSleeper replaces the backoff wait, mainly for tests.
func (r *Retrier) WithSleeper(s Sleeper) *Retrier {
	r.sleep = s
	return r
}

// Call invokes the client until it yields a well-formed response, a non-retryable
// error occurs, or attempts run out. The last classified error is returned on failure.
func (r *Retrier) Call(ctx context.Context, req Request) (*Response, error) {
	var last *Error
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return nil, last
			}
			return nil, Classify(err)
		}

		resp, err := r.client.Invoke(ctx, req)
		if err == nil {
			if shapeErr := validateShape(resp); shapeErr != nil {
				err = shapeErr
			} else {
				return resp, nil
			}
		}

		last = Classify(err)
		if !last.Retryable() || attempt == r.cfg.MaxAttempts-1 {
			break
		}

		delay := r.cfg.Delay(attempt)
		r.log.Warn("generation call failed, retrying",
			"attempt", attempt+1,
			"max_attempts", r.cfg.MaxAttempts,
			"kind", string(last.Kind),
			"sleep", delay.String(),
			"error", last.Error(),
		)
		if err := r.sleep(ctx, delay); err != nil {
			break
		}
	}
	return nil, last
}

// CallText performs Call and returns the trimmed content of the first choice.
func (r *Retrier) CallText(ctx context.Context, req Request) (string, error) {
	resp, err := r.Call(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content()), nil
}

func validateShape(resp *Response) error {
	if resp == nil || len(resp.Choices) == 0 {
		return malformed("response has no choices")
	}
	if looksLikeHTML(resp.Choices[0].Message.Content) {
		return &Error{Kind: KindUnavailable, Message: UnavailableMessage}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
