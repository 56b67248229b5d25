package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/InsulaLabs/csmap/models"
)

const clusterAPIPrefix = "/irisservices/api/v1/public"

type ClusterConfig struct {
	SkipVerify bool
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Cluster is an authenticated client for one Cohesity cluster.
type Cluster struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
	logger     *slog.Logger
}

// ConnectCluster exchanges admin credentials for a bearer token. host may
// carry a port.
func ConnectCluster(ctx context.Context, cfg *ClusterConfig, host, username, password, domain string) (*Cluster, error) {
	if host == "" {
		return nil, fmt.Errorf("cluster host cannot be empty")
	}
	baseURL, err := url.Parse(fmt.Sprintf("https://%s", host))
	if err != nil {
		return nil, fmt.Errorf("failed to parse cluster host '%s': %w", host, err)
	}

	c := &Cluster{
		baseURL:    baseURL,
		httpClient: newHTTPClient(cfg.SkipVerify, cfg.Timeout),
		logger:     cfg.Logger.WithGroup("cluster_client").With("host", host),
	}

	c.logger.Debug("Validating cohesity credentials")

	var resp struct {
		AccessToken string `json:"accessToken"`
		TokenType   string `json:"tokenType"`
	}
	payload := map[string]string{
		"username": username,
		"password": password,
		"domain":   domain,
	}
	if err := c.do(ctx, http.MethodPost, "/accessTokens", nil, payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch cohesity access token: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("cohesity access token response was empty")
	}
	c.token = "Bearer " + resp.AccessToken
	return c, nil
}

func (c *Cluster) do(ctx context.Context, method, path string, query url.Values, body any, target any) error {
	return throttledErr(ctx, c.logger, func() error {
		reqURL := c.baseURL.ResolveReference(&url.URL{Path: clusterAPIPrefix + path, RawQuery: query.Encode()})

		var reqBody []byte
		if body != nil {
			var err error
			if reqBody, err = json.Marshal(body); err != nil {
				return fmt.Errorf("failed to marshal request body for %s %s: %w", method, path, err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), bytes.NewReader(reqBody))
		if err != nil {
			return fmt.Errorf("failed to create request %s %s: %w", method, reqURL, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", c.token)
		}

		c.logger.Debug("Sending request", "method", method, "path", path)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Error("HTTP request failed", "method", method, "path", path, "error", err)
			return fmt.Errorf("http request %s %s failed: %w", method, reqURL, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return &ErrRateLimited{RetryAfter: parseRetryAfter(resp.Header), Message: resp.Status}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			c.logger.Warn("Received non-2xx status code", "method", method, "path", path, "status_code", resp.StatusCode)
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			var errResp struct {
				Message string `json:"message"`
			}
			msg := strings.TrimSpace(string(raw))
			if json.Unmarshal(raw, &errResp) == nil && errResp.Message != "" {
				msg = errResp.Message
			}
			return &StatusError{StatusCode: resp.StatusCode, Method: method, URL: reqURL.String(), Message: msg}
		}

		if target != nil {
			if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
				return fmt.Errorf("failed to decode response body for %s %s: %w", method, reqURL, err)
			}
		}
		return nil
	})
}

// ListTenants returns the cluster's active tenants.
func (c *Cluster) ListTenants(ctx context.Context) ([]models.CohesityTenant, error) {
	c.logger.Debug("Fetching all cohesity tenants")

	var tenants []models.CohesityTenant
	query := url.Values{"status": []string{"Active"}}
	if err := c.do(ctx, http.MethodGet, "/tenants", query, nil, &tenants); err != nil {
		return nil, fmt.Errorf("failed to fetch cohesity tenants: %w", err)
	}
	return tenants, nil
}
