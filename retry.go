package agewatch

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryConfig configures how outbound exports (remote write, archive
// uploads) are retried. Monitoring and training are never retried.
type RetryConfig struct {
	// MaxAttempts counts the first try. Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the wait before the second attempt. Default: 100ms
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps every wait, including a server's Retry-After.
	// Default: 30s
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// BackoffMultiplier grows the wait after each failed attempt. Default: 2
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`

	// Jitter spreads waits by ±Jitter of their length. Default: 0.1
	Jitter float64 `yaml:"jitter"`

	// RetryIf replaces IsRetryable when set.
	RetryIf func(error) bool `yaml:"-"`
}

// DefaultRetryConfig returns the export retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// failureClass says how a failed export attempt is followed up.
type failureClass int

const (
	// failPermanent errors are returned at once.
	failPermanent failureClass = iota
	// failTransient errors are retried after the exponential backoff.
	failTransient
	// failThrottled errors are retried after the backoff or the server's
	// Retry-After, whichever is longer.
	failThrottled
)

// httpStatusError is satisfied by *statusError and by the AWS SDK response
// errors, so both exporters share one classification.
type httpStatusError interface {
	error
	HTTPStatusCode() int
}

// throttleHint is implemented by errors carrying a server-requested delay.
type throttleHint interface {
	RetryAfter() time.Duration
}

// classifyFailure maps an export error to its failure class and the delay
// the server asked for, if any.
func classifyFailure(err error) (failureClass, time.Duration) {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return failPermanent, 0
	}

	var se httpStatusError
	if errors.As(err, &se) {
		var hint time.Duration
		var th throttleHint
		if errors.As(err, &th) {
			hint = th.RetryAfter()
		}
		switch code := se.HTTPStatusCode(); {
		case code == http.StatusTooManyRequests, code == http.StatusServiceUnavailable:
			return failThrottled, hint
		case code >= 500:
			return failTransient, 0
		case code > 0:
			return failPermanent, 0
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"slow down",
	} {
		if strings.Contains(msg, pattern) {
			return failTransient, 0
		}
	}
	return failPermanent, 0
}

// IsRetryable reports whether err is worth another attempt: throttling,
// server errors and connection-level failures are; client errors and
// cancellation are not.
func IsRetryable(err error) bool {
	class, _ := classifyFailure(err)
	return class != failPermanent
}

// Retryer runs export operations with backoff.
type Retryer struct {
	config RetryConfig
	jitter func() float64 // uniform in [0, 1)
}

// NewRetryer fills the zero fields of config with the defaults.
func NewRetryer(config RetryConfig) *Retryer {
	d := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = d.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = d.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = d.MaxBackoff
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = d.BackoffMultiplier
	}
	if config.Jitter < 0 || config.Jitter > 1 {
		config.Jitter = d.Jitter
	}
	return &Retryer{config: config, jitter: rand.Float64}
}

// RetryResult reports how an operation ended.
type RetryResult struct {
	Attempts int
	LastErr  error
}

// Do runs op until it succeeds, fails permanently, runs out of attempts or
// ctx is done. A cancelled wait reports ctx.Err().
func (r *Retryer) Do(ctx context.Context, op func(ctx context.Context) error) RetryResult {
	var res RetryResult
	for res.Attempts < r.config.MaxAttempts {
		res.Attempts++
		res.LastErr = op(ctx)
		if res.LastErr == nil {
			return res
		}

		class, hint := classifyFailure(res.LastErr)
		if r.config.RetryIf != nil {
			if !r.config.RetryIf(res.LastErr) {
				class = failPermanent
			} else if class == failPermanent {
				class = failTransient
			}
		}
		if class == failPermanent || res.Attempts == r.config.MaxAttempts {
			return res
		}

		if err := SleepContext(ctx, r.delay(res.Attempts, class, hint)); err != nil {
			res.LastErr = err
			return res
		}
	}
	return res
}

// delay returns the wait after the given failed attempt:
// InitialBackoff·Multiplier^(attempt-1), jittered, never above MaxBackoff.
// Throttled attempts wait at least the server's hint.
func (r *Retryer) delay(attempt int, class failureClass, hint time.Duration) time.Duration {
	d := float64(r.config.InitialBackoff) * math.Pow(r.config.BackoffMultiplier, float64(attempt-1))
	if r.config.Jitter > 0 {
		d *= 1 + (r.jitter()*2-1)*r.config.Jitter
	}
	wait := time.Duration(math.Min(d, float64(r.config.MaxBackoff)))
	if class == failThrottled && hint > wait {
		wait = min(hint, r.config.MaxBackoff)
	}
	return wait
}

// parseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
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
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
