// Package notification delivers invocation outcomes to webhook endpoints.
package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"
)

// Delivery errors.
var (
	// ErrInvalidEndpoint indicates an endpoint without a URL.
	ErrInvalidEndpoint = errors.New("invalid endpoint configuration")

	// ErrEndpointUnavailable indicates the endpoint could not be reached.
	ErrEndpointUnavailable = errors.New("webhook endpoint unavailable")

	// ErrEndpointRejected indicates a 4xx answer. It is not retried.
	ErrEndpointRejected = errors.New("webhook endpoint rejected delivery")
)

// Endpoint is one webhook receiver.
type Endpoint struct {
	URL     string
	Secret  string
	Headers map[string]string
}

// SenderConfig configures the HTTP sender.
type SenderConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration
	// MaxRetries is the maximum number of attempts.
	MaxRetries int
	// RetryDelay is the initial delay between attempts.
	RetryDelay time.Duration
	// CircuitBreakerThreshold is consecutive failures before the circuit opens.
	CircuitBreakerThreshold int
	// CircuitBreakerTimeout is how long the circuit stays open.
	CircuitBreakerTimeout time.Duration
	// UserAgent is the User-Agent header value.
	UserAgent string
}

// DefaultSenderConfig returns the default sender configuration.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Timeout:                 5 * time.Second,
		MaxRetries:              3,
		RetryDelay:              200 * time.Millisecond,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
		UserAgent:               "roundtable-webhook/1.0",
	}
}

// Sender posts signed JSON payloads, retrying server errors and isolating
// failing endpoints behind per-URL circuit breakers.
type Sender struct {
	config   SenderConfig
	client   *http.Client
	breakers map[string]circuitbreaker.CircuitBreaker[struct{}]
	retrier  retry.Retry[struct{}]
	mu       sync.Mutex
}

// NewSender creates a sender. Zero fields take their defaults.
func NewSender(config SenderConfig) *Sender {
	def := DefaultSenderConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = def.RetryDelay
	}
	if config.CircuitBreakerThreshold <= 0 {
		config.CircuitBreakerThreshold = def.CircuitBreakerThreshold
	}
	if config.CircuitBreakerTimeout <= 0 {
		config.CircuitBreakerTimeout = def.CircuitBreakerTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}

	return &Sender{
		config:   config,
		client:   &http.Client{Timeout: config.Timeout},
		breakers: make(map[string]circuitbreaker.CircuitBreaker[struct{}]),
		retrier: retry.New[struct{}](retry.Config{
			MaxAttempts:        config.MaxRetries,
			InitialDelay:       config.RetryDelay,
			BackoffPolicy:      retry.BackoffExponential,
			Multiplier:         2.0,
			NonRetryableErrors: []error{ErrEndpointRejected},
		}),
	}
}

// Send posts payload to the endpoint.
func (s *Sender) Send(ctx context.Context, endpoint Endpoint, payload []byte) error {
	if endpoint.URL == "" {
		return ErrInvalidEndpoint
	}

	breaker := s.breaker(endpoint.URL)
	_, err := breaker.Execute(ctx, func(ctx context.Context) (struct{}, error) {
		return s.retrier.Do(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.post(ctx, endpoint, payload)
		})
	})
	return err
}

// post performs one attempt. The request is rebuilt per attempt so the
// body can be read again.
func (s *Sender) post(ctx context.Context, endpoint Endpoint, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.config.UserAgent)
	for key, value := range endpoint.Headers {
		req.Header.Set(key, value)
	}
	if endpoint.Secret != "" {
		for key, value := range SignedHeaders(payload, endpoint.Secret, time.Now()) {
			req.Header.Set(key, value)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEndpointUnavailable, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrEndpointUnavailable, resp.StatusCode, body)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrEndpointRejected, resp.StatusCode, body)
	}
}

func (s *Sender) breaker(url string) circuitbreaker.CircuitBreaker[struct{}] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[url]; ok {
		return b
	}
	threshold := uint32(s.config.CircuitBreakerThreshold) // #nosec G115 -- defaulted positive in NewSender
	b := circuitbreaker.New[struct{}](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    s.config.CircuitBreakerTimeout,
		Timeout:     s.config.CircuitBreakerTimeout,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
	s.breakers[url] = b
	return b
}

// BreakerState returns the circuit state of an endpoint.
func (s *Sender) BreakerState(url string) string {
	s.mu.Lock()
	b, ok := s.breakers[url]
	s.mu.Unlock()
	if !ok {
		return "unknown"
	}
	return b.State().String()
}
