// Package retry retries operations that fail with transient errors.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config controls retry attempts and backoff.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig suits local store operations.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
	Timeout:        30 * time.Second,
}

// Client runs operations with retry on transient errors.
type Client struct {
	logger *logrus.Logger
	config Config
}

// NewClient creates a retry client. The first config, if any, replaces DefaultConfig.
func NewClient(logger *logrus.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{logger: logger, config: cfg}
}

// Config returns the client's settings
func (c *Client) Config() Config {
	return c.config
}

// Run retries fn while it fails with a transient error.
func (c *Client) Run(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := Do(ctx, c, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do retries fn while it fails with a transient error, returning its result.
// Permanent errors are returned unwrapped on the attempt they occur.
func Do[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	opCtx := ctx
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := opCtx.Err(); err != nil {
			if ctx.Err() != nil {
				return zero, fmt.Errorf("%s canceled: %w", op, ctx.Err())
			}
			return zero, fmt.Errorf("%s timed out after %v: %w", op, c.config.Timeout, err)
		}

		res, err := fn(opCtx)
		if err == nil {
			if attempt > 0 {
				c.logger.WithField("op", op).Infof("Succeeded on attempt %d", attempt+1)
			}
			return res, nil
		}
		if !IsTransientError(err) {
			return zero, err
		}

		lastErr = err
		if attempt == c.config.MaxRetries {
			break
		}

		c.logger.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt + 1,
			"backoff": backoff,
		}).Warnf("Transient error, retrying: %v", err)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
			backoff = c.nextBackoff(backoff)
		case <-opCtx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%s interrupted during backoff: %w", op, opCtx.Err())
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, c.config.MaxRetries+1, lastErr)
}

func (c *Client) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if c.config.MaxBackoff > 0 && backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.Debugf("Failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

// IsTransientError reports whether err looks like a condition that clears on its own,
// such as a busy database or an interrupted I/O call.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"database is locked",
		"database table is locked",
		"sqlite_busy",
		"busy",
		"timeout",
		"resource temporarily unavailable",
		"interrupted system call",
		"too many open files",
		"temporary failure",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
