// Package bridge is the REST client for the external cross-chain bridge
// provider.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
	"github.com/alanyoungcy/fantasymarket/internal/metrics"
	"github.com/alanyoungcy/fantasymarket/internal/platform/chain"
)

// ErrUnavailable wraps calls rejected by the open circuit breaker.
var ErrUnavailable = errors.New("bridge: provider unavailable")

// APIError is a non-2xx provider response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bridge: HTTP %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps well-known statuses onto domain errors.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return domain.ErrValidation
	}
	return nil
}

// clientFault reports whether err is the caller's fault rather than the
// provider's, so it should not count against the breaker.
func clientFault(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
}

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// TripAfter consecutive provider failures open the breaker for
	// OpenFor before a single probe is allowed through.
	TripAfter uint32
	OpenFor   time.Duration
}

// Client implements domain.BridgeProvider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *slog.Logger
}

// NewClient creates a Client. m may be nil.
func NewClient(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.TripAfter == 0 {
		cfg.TripAfter = 5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	logger = logger.With(slog.String("component", "bridge_client"))

	st := gobreaker.Settings{
		Name:        "bridge_provider",
		MaxRequests: 1,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.TripAfter
		},
		IsSuccessful: func(err error) bool {
			return err == nil || clientFault(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("bridge_client: breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			m.Breaker(name, int(to))
		},
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    gobreaker.NewCircuitBreaker[[]byte](st),
		logger:     logger,
	}
}

type initiateBody struct {
	ClientRef          string `json:"clientRef"`
	Amount             string `json:"amount"`
	SourceChain        string `json:"sourceChain"`
	DestinationChain   string `json:"destinationChain"`
	SourceDomain       *int64 `json:"sourceDomain,omitempty"`
	DestinationDomain  *int64 `json:"destinationDomain,omitempty"`
	DestinationAddress string `json:"destinationAddress"`
}

type transferResponse struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	TxHashFrom string `json:"txHashFrom"`
	TxHashTo   string `json:"txHashTo"`
	Error      string `json:"error"`
}

func (r transferResponse) toResult() domain.BridgeResult {
	return domain.BridgeResult{
		ProviderRef: r.ID,
		State:       r.State,
		TxHashFrom:  r.TxHashFrom,
		TxHashTo:    r.TxHashTo,
		Error:       r.Error,
	}
}

// Initiate asks the provider to start a transfer.
func (c *Client) Initiate(ctx context.Context, req domain.BridgeRequest) (domain.BridgeResult, error) {
	body := initiateBody{
		ClientRef:          req.ClientRef,
		Amount:             req.Amount.String(),
		SourceChain:        req.SourceChain,
		DestinationChain:   req.DestinationChain,
		DestinationAddress: req.DestinationAddress,
	}
	if n, ok := chain.Lookup(req.SourceChain); ok {
		d := int64(n.Domain)
		body.SourceDomain = &d
	}
	if n, ok := chain.Lookup(req.DestinationChain); ok {
		d := int64(n.Domain)
		body.DestinationDomain = &d
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.BridgeResult{}, fmt.Errorf("bridge: encode initiate: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, "/v1/transfers", payload)
	if err != nil {
		return domain.BridgeResult{}, fmt.Errorf("bridge: initiate %s: %w", req.ClientRef, err)
	}
	var resp transferResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.BridgeResult{}, fmt.Errorf("bridge: decode initiate: %w", err)
	}
	if resp.ID == "" {
		return domain.BridgeResult{}, fmt.Errorf("bridge: initiate %s: response has no transfer id", req.ClientRef)
	}
	return resp.toResult(), nil
}

// Status fetches the provider's view of a transfer.
func (c *Client) Status(ctx context.Context, providerRef string) (domain.BridgeResult, error) {
	raw, err := c.do(ctx, http.MethodGet, "/v1/transfers/"+url.PathEscape(providerRef), nil)
	if err != nil {
		return domain.BridgeResult{}, fmt.Errorf("bridge: status %s: %w", providerRef, err)
	}
	var resp transferResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.BridgeResult{}, fmt.Errorf("bridge: decode status: %w", err)
	}
	if resp.ID == "" {
		resp.ID = providerRef
	}
	return resp.toResult(), nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}
		return data, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return body, err
}

var _ domain.BridgeProvider = (*Client)(nil)
