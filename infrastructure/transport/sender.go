package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"esence/application/ports"
	"esence/domain/core/entities"
	"esence/pkg/observability"

	apperrors "esence/pkg/errors"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const maxResponseSize = 256 * 1024

// ErrRejected is returned when a peer answers with a 4xx status
var ErrRejected = errors.New("peer rejected message")

// BreakerConfig holds configuration for the per-host circuit breakers
type BreakerConfig struct {
	MaxRequests uint32        `yaml:"max_requests"`
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
	// ReadyToTrip trips once FailureThreshold of at least MinRequests failed
	FailureThreshold float64 `yaml:"failure_threshold"`
	MinRequests      uint32  `yaml:"min_requests"`
}

// DefaultBreakerConfig returns a default configuration for circuit breakers
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// SenderConfig configures HTTPSender
type SenderConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Retry   RetryConfig   `yaml:"retry"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// DefaultSenderConfig returns the delivery defaults
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Timeout: 15 * time.Second,
		Retry:   DefaultRetryConfig(),
		Breaker: DefaultBreakerConfig(),
	}
}

// HTTPSender posts messages to peer endpoints. Each destination host gets
// its own circuit breaker so one dead peer does not slow the others down.
type HTTPSender struct {
	client  *http.Client
	cfg     SenderConfig
	logger  *zap.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewHTTPSender creates a sender. client may be nil.
func NewHTTPSender(cfg SenderConfig, client *http.Client, logger *zap.Logger, metrics *observability.Metrics) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSender{
		client:   client,
		cfg:      cfg,
		logger:   logger.Named("sender"),
		metrics:  metrics,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Send implements ports.Sender. Network errors and 5xx answers are retried
// with backoff; a 4xx answer returns the delivery together with ErrRejected.
func (s *HTTPSender) Send(ctx context.Context, endpoint string, msg entities.Message) (ports.Delivery, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return ports.Delivery{}, apperrors.NewValidationError(fmt.Sprintf("invalid endpoint %q", endpoint))
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return ports.Delivery{}, fmt.Errorf("encode message: %w", err)
	}

	cb := s.breaker(u.Host)
	var delivery ports.Delivery
	err = Retry(ctx, s.cfg.Retry, s.logger, "deliver to "+u.Host, func() error {
		_, cbErr := cb.Execute(func() (interface{}, error) {
			d, postErr := s.post(ctx, endpoint, body)
			delivery = d
			return nil, postErr
		})
		if errors.Is(cbErr, gobreaker.ErrOpenState) || errors.Is(cbErr, gobreaker.ErrTooManyRequests) {
			return Permanent(cbErr)
		}
		return cbErr
	})

	msgType := string(msg.Type())
	switch {
	case err == nil:
		s.metrics.ObserveSent(msgType, "delivered")
		return delivery, nil
	case errors.Is(err, ErrRejected):
		s.metrics.ObserveSent(msgType, "rejected")
		return delivery, err
	default:
		s.metrics.ObserveSent(msgType, "failed")
		return delivery, apperrors.NewNetworkError("delivery to "+u.Host+" failed", err)
	}
}

func (s *HTTPSender) post(ctx context.Context, endpoint string, body []byte) (ports.Delivery, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ports.Delivery{}, Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	observability.InjectHeaders(ctx, req.Header)

	resp, err := s.client.Do(req)
	if err != nil {
		return ports.Delivery{}, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	d := ports.Delivery{StatusCode: resp.StatusCode, Body: respBody}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return d, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return d, fmt.Errorf("peer returned %d", resp.StatusCode)
	default:
		return d, Permanent(fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode))
	}
}

func (s *HTTPSender) breaker(host string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[host]; ok {
		return cb
	}
	cfg := s.cfg.Breaker
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			s.logger.Warn("circuit breaker state changed",
				zap.String("host", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// A peer that answers 4xx is reachable
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected)
		},
	})
	s.breakers[host] = cb
	return cb
}

var _ ports.Sender = (*HTTPSender)(nil)
