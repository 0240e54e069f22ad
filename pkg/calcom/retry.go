package calcom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/url"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var defaultRetryConfig = retryConfig{
	maxRetries: 2,
	baseDelay:  200 * time.Millisecond,
	maxDelay:   2 * time.Second,
}

// isTransientTransportErr reports whether err is a connection or timeout
// failure worth retrying. Responses from the service (any status) are never
// transient here: a 4xx is a client-side correctness error.
func isTransientTransportErr(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
		err = urlErr.Err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	for _, target := range []error{io.EOF, io.ErrUnexpectedEOF, syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.EPIPE} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// retryOp runs fn with exponential backoff + jitter while it keeps failing
// with transient transport errors. Cancellation of ctx stops retrying at once.
func retryOp(ctx context.Context, cfg retryConfig, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isTransientTransportErr(lastErr) {
			return lastErr
		}
		if attempt == cfg.maxRetries {
			break
		}

		delay := backoffDelay(cfg, attempt)
		log.Warn().Err(lastErr).Str("op", op).Int("attempt", attempt+1).Dur("delay", delay).Msg("calcom: retrying transient failure")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrTransientTransport, op, cfg.maxRetries+1, lastErr)
}

// backoffDelay = baseDelay * 2^attempt capped at maxDelay, plus jitter in [0, baseDelay).
func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	if cfg.baseDelay <= 0 {
		return 0
	}
	delay := cfg.baseDelay << uint(attempt)
	if cfg.maxDelay > 0 && delay > cfg.maxDelay {
		delay = cfg.maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(cfg.baseDelay)))
	return delay + jitter
}
