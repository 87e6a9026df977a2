package transport

import (
	"context"
	cryptorand "crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"

	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
	"github.com/ajitpratap0/wsrm-go/pkg/logging"
)

// ReliabilityMiddleware retries accepts that fail with a transient
// transport error
type ReliabilityMiddleware struct {
	config ReliabilityConfig
	logger logging.Logger
}

// NewReliabilityMiddleware creates a new reliability middleware
func NewReliabilityMiddleware(config ReliabilityConfig, logger logging.Logger) Middleware {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ReliabilityMiddleware{
		config: config,
		logger: logger.WithFields(logging.Component("reliability_middleware")),
	}
}

// Wrap implements the Middleware interface
func (rm *ReliabilityMiddleware) Wrap(listener Listener) Listener {
	return &reliabilityListener{
		middlewareListener: middlewareListener{next: listener},
		middleware:         rm,
	}
}

// reliabilityListener wraps a listener with accept retries
type reliabilityListener struct {
	middlewareListener
	middleware *ReliabilityMiddleware
}

// Accept wraps the underlying Accept with retry logic
func (rl *reliabilityListener) Accept(ctx context.Context) (Channel, error) {
	config := rl.middleware.config

	var lastErr error
	maxAttempts := config.MaxRetries + 1 // Initial attempt + retries

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, rmerrors.Cancelled("accept", ctx.Err())
		}

		if attempt > 0 {
			delay := calculateBackoff(attempt, config)
			rl.middleware.logger.Debug("Retrying accept",
				logging.Int("attempt", attempt),
				logging.Int("max_retries", config.MaxRetries),
				logging.Duration("delay", delay))

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, rmerrors.Cancelled("accept", ctx.Err())
			}
		}

		ch, err := rl.middlewareListener.Accept(ctx)
		if err == nil {
			return ch, nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return nil, err
		}

		rl.middleware.logger.WithError(err).Warn("Transient accept failure",
			logging.Int("attempt", attempt+1),
			logging.Int("max_attempts", maxAttempts))
	}

	return nil, rmerrors.TransportError("listener", "accept",
		fmt.Errorf("accept failed after %d attempts: %w", maxAttempts, lastErr))
}

// isRetryableError determines if an accept error should trigger a retry.
// Cancellation and timeouts belong to the caller and are never retried.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if rmErr, ok := rmerrors.AsRMError(err); ok {
		switch rmErr.Code() {
		case rmerrors.CodeCommunicationError,
			rmerrors.CodeConnectionLost,
			rmerrors.CodeTransportError:
			return true
		default:
			return false
		}
	}

	return rmerrors.IsRecoverable(err) &&
		!rmerrors.IsCategory(rmerrors.ConvertStandardError(err), rmerrors.CategoryCancelled) &&
		!rmerrors.IsCategory(rmerrors.ConvertStandardError(err), rmerrors.CategoryTimeout)
}

// secureRandFloat64 generates a cryptographically secure random float64 in [0, 1)
func secureRandFloat64() (float64, error) {
	max := big.NewInt(1 << 53)
	n, err := cryptorand.Int(cryptorand.Reader, max)
	if err != nil {
		return 0, err
	}
	return float64(n.Int64()) / float64(1<<53), nil
}

// calculateBackoff calculates the delay before the next retry
func calculateBackoff(attempt int, config ReliabilityConfig) time.Duration {
	// Exponential backoff
	backoff := float64(config.InitialRetryDelay) * math.Pow(config.RetryBackoffFactor, float64(attempt-1))

	if backoff > float64(config.MaxRetryDelay) {
		backoff = float64(config.MaxRetryDelay)
	}

	// ±10% jitter
	if randFloat, err := secureRandFloat64(); err == nil {
		jitter := backoff * 0.1 * (randFloat*2 - 1)
		backoff += jitter
	}

	return time.Duration(backoff)
}
