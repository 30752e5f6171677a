package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/stock-billing/internal/core/domain"
	"github.com/rl1809/stock-billing/internal/platform/observability"
	"github.com/rl1809/stock-billing/internal/resilience"
)

const (
	defaultProbeTimeout = 2 * time.Second
	HealthServiceName   = "inventory"
)

type debitRequest struct {
	IdempotencyKey string             `json:"idempotency_key"`
	Items          []domain.DebitItem `json:"items"`
}

type debitResponse struct {
	Applied bool `json:"applied"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

// InventoryClient talks to the inventory service over HTTP. Product reads
// and debits go through a retry loop inside a shared circuit breaker;
// Available bypasses both.
type InventoryClient struct {
	baseURL      string
	http         *http.Client
	policy       *resilience.Policy
	health       healthpb.HealthClient
	probeTimeout time.Duration
	metrics      *observability.Metrics
	logger       *zap.Logger
}

type Option func(*InventoryClient)

func WithHTTPClient(c *http.Client) Option {
	return func(ic *InventoryClient) { ic.http = c }
}

// WithHealthConn makes Available use the gRPC health service on conn
// instead of GET /health.
func WithHealthConn(conn grpc.ClientConnInterface) Option {
	return func(ic *InventoryClient) { ic.health = healthpb.NewHealthClient(conn) }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(ic *InventoryClient) { ic.metrics = m }
}

func WithProbeTimeout(d time.Duration) Option {
	return func(ic *InventoryClient) { ic.probeTimeout = d }
}

func NewInventoryClient(baseURL string, cfg resilience.Config, logger *zap.Logger, opts ...Option) *InventoryClient {
	ic := &InventoryClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         &http.Client{},
		probeTimeout: defaultProbeTimeout,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(ic)
	}

	onRetry := func(retry int, wait time.Duration, err error) {
		ic.metrics.ObserveRetry()
		ic.logger.Warn("retrying inventory call",
			zap.Int("retry", retry), zap.Duration("wait", wait), zap.Error(err))
	}
	onState := resilience.OnStateChange(func(from, to resilience.State) {
		ic.metrics.ObserveBreaker(from.String(), to.String(), int(to))
		ic.logger.Warn("inventory circuit breaker changed state",
			zap.String("from", from.String()), zap.String("to", to.String()))
	})
	ic.policy = resilience.NewPolicy(cfg, onRetry, onState)
	return ic
}

// Breaker exposes the circuit breaker state for status endpoints.
func (ic *InventoryClient) Breaker() *resilience.Breaker {
	return ic.policy.Breaker()
}

func (ic *InventoryClient) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var product domain.Product
	err := ic.policy.Execute(ctx, func(ctx context.Context) error {
		return ic.do(ctx, http.MethodGet, fmt.Sprintf("/api/products/%d", id), nil, &product)
	})
	if err != nil {
		return nil, ic.classify(err, "get product")
	}
	return &product, nil
}

func (ic *InventoryClient) Debit(ctx context.Context, idempotencyKey string, items []domain.DebitItem) (domain.DebitOutcome, error) {
	body := debitRequest{IdempotencyKey: idempotencyKey, Items: items}

	var resp debitResponse
	err := ic.policy.Execute(ctx, func(ctx context.Context) error {
		return ic.do(ctx, http.MethodPost, "/api/products/debit", body, &resp)
	})
	if err != nil {
		return "", ic.classify(err, "debit stock")
	}

	if resp.Applied {
		return domain.DebitApplied, nil
	}
	return domain.DebitAlreadyApplied, nil
}

func (ic *InventoryClient) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, ic.probeTimeout)
	defer cancel()

	if ic.health != nil {
		resp, err := ic.health.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthServiceName})
		if err != nil {
			ic.logger.Debug("inventory health probe failed", zap.Error(err))
			return false
		}
		return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ic.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := ic.http.Do(req)
	if err != nil {
		ic.logger.Debug("inventory health probe failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (ic *InventoryClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, ic.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := ic.http.Do(req)
	if err != nil {
		return resilience.Transient(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.Transient(err)
	}

	if resp.StatusCode == http.StatusOK {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode inventory response: %w", err)
		}
		return nil
	}

	return statusError(resp.StatusCode, raw)
}

// statusError turns a non-200 response into a classified error. Business
// answers are definitive; server-side failures and throttling are transient.
func statusError(status int, raw []byte) error {
	var body errorResponse
	_ = json.Unmarshal(raw, &body)
	message := body.Message
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}
	if message == "" {
		message = http.StatusText(status)
	}

	switch {
	case status == http.StatusNotFound:
		return domain.Errorf(domain.KindNotFound, "%s", message)
	case status == http.StatusBadRequest:
		reason := body.Reason
		if reason == "" {
			reason = body.Error
		}
		if domain.ParseKind(reason) == domain.KindInsufficientBalance {
			return domain.Errorf(domain.KindInsufficientBalance, "%s", message)
		}
		return domain.Errorf(domain.KindInvalidState, "%s", message)
	case status == http.StatusConflict:
		return domain.Errorf(domain.KindConcurrencyConflict, "%s", message)
	case status == http.StatusTooManyRequests || status >= 500:
		return resilience.Transient(fmt.Errorf("inventory responded %d: %s", status, message))
	}
	return fmt.Errorf("inventory responded %d: %s", status, message)
}

func (ic *InventoryClient) classify(err error, op string) error {
	switch {
	case errors.Is(err, resilience.ErrOpen):
		return &domain.Error{Kind: domain.KindServiceUnavailable, Message: "inventory service unavailable (circuit open)", Err: err}
	case errors.Is(err, resilience.ErrExhausted):
		return &domain.Error{Kind: domain.KindServiceUnavailable, Message: "inventory service unavailable", Err: err}
	case resilience.IsTransient(err):
		return &domain.Error{Kind: domain.KindServiceUnavailable, Message: "inventory service unavailable", Err: err}
	}
	return domain.Wrap(domain.KindUnexpected, err, op)
}
