package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"trialcheck/domain/core"
	"trialcheck/domain/scenario"
	"trialcheck/domain/stats"
	"trialcheck/internal"
)

// ServiceClient calls the service under test over HTTP. It implements
// ports.ServiceAdapter and is safe for concurrent use.
type ServiceClient struct {
	config     ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *internal.Logger
}

// NewServiceClient creates a client for the configured service
func NewServiceClient(config ClientConfig) (*ServiceClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	c := &ServiceClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     internal.DefaultLogger.Component("ServiceClient"),
	}
	if config.RateLimit > 0 {
		burst := config.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	return c, nil
}

// Call posts params to the calculator's endpoint, checks the response against
// its contract and decodes it.
func (c *ServiceClient) Call(ctx context.Context, kind scenario.CalculatorKind, params scenario.Params) (*stats.ObservedResult, error) {
	endpoint := kind.Endpoint()
	if endpoint == "" {
		return nil, core.NewUnsupportedCalculatorError(string(kind))
	}

	// Rate limiting check
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &core.InfrastructureError{Endpoint: endpoint, Cause: fmt.Errorf("rate limit wait: %w", err)}
		}
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return nil, core.NewInvalidInputError("inputs", "cannot encode as JSON: %v", err)
	}
	req, err := c.buildRequest(ctx, c.config.URL(endpoint), payload)
	if err != nil {
		return nil, &core.InfrastructureError{Endpoint: endpoint, Cause: err}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &core.InfrastructureError{Endpoint: endpoint, Cause: err}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes))
	resp.Body.Close()
	if err != nil {
		return nil, &core.InfrastructureError{Endpoint: endpoint, StatusCode: resp.StatusCode, Cause: fmt.Errorf("read response: %w", err)}
	}
	c.logger.Debug("POST %s -> %d in %s (%d bytes)", endpoint, resp.StatusCode, time.Since(start).Round(time.Millisecond), len(body))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &core.InfrastructureError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Field:      offendingField(body),
			Cause:      fmt.Errorf("%s", snippet(body)),
		}
	}

	if contract, ok := ContractFor(kind, params); ok {
		if problems := contract.Check(body); len(problems) > 0 {
			return nil, &core.SchemaViolationError{Endpoint: endpoint, Problems: problems}
		}
	} else if !gjson.ValidBytes(body) {
		return nil, &core.SchemaViolationError{Endpoint: endpoint, Problems: []string{"response is not valid JSON"}}
	}
	return Decode(endpoint, body), nil
}

// buildRequest creates a JSON POST with authentication
func (c *ServiceClient) buildRequest(ctx context.Context, url string, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	if c.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.AuthToken)
	}
	return req, nil
}

// offendingField extracts the named field from a structured error body,
// either {"field": ...} or a validation error list {"detail": [{"loc": [..., field]}]}.
func offendingField(body []byte) string {
	if f := gjson.GetBytes(body, "field"); f.Type == gjson.String {
		return f.Str
	}
	loc := gjson.GetBytes(body, "detail.0.loc").Array()
	if len(loc) > 0 {
		return loc[len(loc)-1].String()
	}
	return ""
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}
