// Package platform is the HTTP client for the hosting platform that runs tenant
// resources, knows active users, holds top-up policies and charges payment methods.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/erp/billing/internal/application/billing"
	"github.com/erp/billing/internal/domain/credit"
	"github.com/erp/billing/internal/infrastructure/config"
	"go.uber.org/zap"
)

const maxResponseSize = 1 << 20

var (
	// ErrPlatformUnavailable is returned when the platform cannot be reached
	ErrPlatformUnavailable = errors.New("platform: unavailable")

	// ErrPlatformRequestFailed is returned when the platform answers with an error status
	ErrPlatformRequestFailed = errors.New("platform: request failed")

	// ErrMissingBaseURL is returned when no endpoint is configured
	ErrMissingBaseURL = errors.New("platform: base url is required")
)

// Client talks to the hosting platform API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a platform client from configuration
func NewClient(cfg config.PlatformConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("platform"),
	}, nil
}

type activeResourcesResponse struct {
	Count int64 `json:"count"`
}

// ActiveResources implements billing.ResourceCounter.
func (c *Client) ActiveResources(ctx context.Context, tenantID string) (int64, error) {
	var resp activeResourcesResponse
	path := "/v1/tenants/" + url.PathEscape(tenantID) + "/resources/active"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Suspend stops a tenant's resources. It has the billing.SuspendFunc shape.
func (c *Client) Suspend(ctx context.Context, tenantID string) error {
	path := "/v1/tenants/" + url.PathEscape(tenantID) + "/suspend"
	if err := c.do(ctx, http.MethodPost, path, nil, nil, nil); err != nil {
		return err
	}
	c.logger.Info("Tenant suspended on platform", zap.String("tenant_id", tenantID))
	return nil
}

type activeUsersResponse struct {
	Tenants map[string]int64 `json:"tenants"`
}

// ActiveUsers implements billing.ActiveUserSource.
func (c *Client) ActiveUsers(ctx context.Context, date time.Time) (map[string]int64, error) {
	var resp activeUsersResponse
	path := "/v1/active-users?date=" + date.UTC().Format(time.DateOnly)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Tenants == nil {
		resp.Tenants = map[string]int64{}
	}
	return resp.Tenants, nil
}

type topupPoliciesResponse struct {
	Policies []billing.TopupPolicy `json:"policies"`
}

// TopupPolicies implements billing.TopupPolicySource.
func (c *Client) TopupPolicies(ctx context.Context) ([]billing.TopupPolicy, error) {
	var resp topupPoliciesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/topup-policies", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Policies, nil
}

type chargeRequest struct {
	Amount credit.Credit `json:"amount"`
}

type chargeResponse struct {
	ChargeID string `json:"chargeId"`
}

// Charge implements billing.Charger. The idempotency key travels in the Idempotency-Key header.
func (c *Client) Charge(ctx context.Context, tenantID string, amount credit.Credit, idempotencyKey string) (string, error) {
	var resp chargeResponse
	path := "/v1/tenants/" + url.PathEscape(tenantID) + "/charges"
	headers := map[string]string{"Idempotency-Key": idempotencyKey}
	if err := c.do(ctx, http.MethodPost, path, headers, chargeRequest{Amount: amount}, &resp); err != nil {
		return "", err
	}
	if resp.ChargeID == "" {
		return "", fmt.Errorf("%w: empty charge id", ErrPlatformRequestFailed)
	}
	return resp.ChargeID, nil
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("platform: failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("platform: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPlatformUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("platform: failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.logger.Warn("Platform request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: %s %s: HTTP %d", ErrPlatformRequestFailed, method, path, resp.StatusCode)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("platform: failed to parse response: %w", err)
	}
	return nil
}

var (
	_ billing.ResourceCounter   = (*Client)(nil)
	_ billing.ActiveUserSource  = (*Client)(nil)
	_ billing.TopupPolicySource = (*Client)(nil)
	_ billing.Charger           = (*Client)(nil)
)
