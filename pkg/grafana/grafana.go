// Package grafana provisions dashboards through the Grafana HTTP API.
package grafana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/rcluster/pkg/health"
	"github.com/cuemby/rcluster/pkg/types"
)

// DefaultTimeout bounds every Grafana request
const DefaultTimeout = 20 * time.Second

var (
	// ErrUnhealthy is returned when /api/health does not answer 200
	ErrUnhealthy = errors.New("grafana is not healthy")

	// ErrMissingToken is returned when the token env var is empty
	ErrMissingToken = errors.New("grafana api token not set")
)

// APIError is a non-success answer from the Grafana API
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("grafana %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, strings.TrimSpace(e.Body))
}

// ImportResult is Grafana's answer to a dashboard import
type ImportResult struct {
	ID      int    `json:"id"`
	UID     string `json:"uid"`
	URL     string `json:"url"`
	Status  string `json:"status"`
	Version int    `json:"version"`
	Slug    string `json:"slug"`
}

// Client talks to one Grafana instance
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient creates a client for the Grafana at baseURL
func NewClient(baseURL, token string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  logger.With().Str("component", "grafana").Logger(),
	}
}

// Health probes /api/health
func (c *Client) Health(ctx context.Context) error {
	checker := health.NewHTTPChecker(c.baseURL+"/api/health").
		WithBearerToken(c.token).
		WithStatusRange(http.StatusOK, http.StatusOK).
		WithTimeout(DefaultTimeout)

	result := checker.Check(ctx)
	if !result.Healthy {
		if result.Err != nil {
			return fmt.Errorf("%w: %w", ErrUnhealthy, result.Err)
		}
		return fmt.Errorf("%w: %s", ErrUnhealthy, result.Message)
	}
	c.logger.Debug().Dur("duration", result.Duration).Msg("Grafana is healthy")
	return nil
}

// DatasourceExists reports whether a datasource called name is configured
func (c *Client) DatasourceExists(ctx context.Context, name string) (bool, error) {
	path := "/api/datasources/name/" + url.PathEscape(name)
	err := c.do(ctx, http.MethodGet, path, nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ImportDashboard creates or overwrites dashboard in the General folder
func (c *Client) ImportDashboard(ctx context.Context, dashboard json.RawMessage) (*ImportResult, error) {
	payload := struct {
		Dashboard json.RawMessage `json:"dashboard"`
		Overwrite bool            `json:"overwrite"`
		FolderID  int             `json:"folderId"`
	}{
		Dashboard: dashboard,
		Overwrite: true,
	}

	var result ImportResult
	if err := c.do(ctx, http.MethodPost, "/api/dashboards/db", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ImportDashboardFile reads a dashboard JSON document and imports it
func (c *Client) ImportDashboardFile(ctx context.Context, path string) (*ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dashboard: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("dashboard %s is not valid JSON", path)
	}
	result, err := c.ImportDashboard(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to import dashboard %s: %w", path, err)
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("grafana %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Provision checks Grafana health and imports the configured dashboards.
// Every dashboard is attempted; failures are joined.
func Provision(ctx context.Context, spec types.GrafanaSpec, logger zerolog.Logger) error {
	if !spec.Enabled {
		return nil
	}
	token := os.Getenv(spec.APITokenEnv)
	if token == "" {
		return fmt.Errorf("%w: environment variable %q is empty", ErrMissingToken, spec.APITokenEnv)
	}

	client := NewClient(spec.URL, token, logger)
	if err := client.Health(ctx); err != nil {
		return err
	}

	if spec.DatasourceName != "" {
		ok, err := client.DatasourceExists(ctx, spec.DatasourceName)
		switch {
		case err != nil:
			client.logger.Warn().Err(err).Str("datasource", spec.DatasourceName).Msg("Could not look up datasource")
		case !ok:
			client.logger.Warn().Str("datasource", spec.DatasourceName).Msg("Datasource not found, dashboards may show no data")
		}
	}

	if !spec.ProvisionDashboards {
		return nil
	}

	var errs []error
	for _, path := range spec.DashboardFiles {
		result, err := client.ImportDashboardFile(ctx, path)
		if err != nil {
			client.logger.Error().Err(err).Str("file", path).Msg("Dashboard import failed")
			errs = append(errs, err)
			continue
		}
		client.logger.Info().Str("file", path).Str("uid", result.UID).Str("url", result.URL).Msg("Dashboard imported")
	}
	return errors.Join(errs...)
}
