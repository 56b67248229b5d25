package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/InsulaLabs/csmap/models"
	"golang.org/x/time/rate"
)

const (
	DefaultAPIVersion = "34.0"
	SystemOrgName     = "System"

	headerVcdAuth = "x-vcloud-authorization"
)

type VcdConfig struct {
	Href       string // example: "https://vcd.example.com"
	APIVersion string
	SkipVerify bool
	Timeout    time.Duration
	RateLimit  float64 // requests per second, 0 disables pacing
	RateBurst  int
	Logger     *slog.Logger
}

// Vcd is a client for the parts of the vCD API this tool uses: sessions, the
// organization directory, organization metadata and UI extensions.
type Vcd struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiVersion string
	limiter    *rate.Limiter
	logger     *slog.Logger

	token string
}

func NewVcd(cfg *VcdConfig) (*Vcd, error) {
	if cfg.Href == "" {
		return nil, fmt.Errorf("href cannot be empty")
	}
	baseURL, err := url.Parse(cfg.Href)
	if err != nil {
		return nil, fmt.Errorf("failed to parse href '%s': %w", cfg.Href, err)
	}
	if baseURL.Scheme != "https" {
		return nil, fmt.Errorf("href '%s' must use https", cfg.Href)
	}

	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	logger := cfg.Logger.WithGroup("vcd_client")
	if cfg.SkipVerify {
		logger.Info("TLS verification is skipped.")
	}

	return &Vcd{
		baseURL:    baseURL,
		httpClient: newHTTPClient(cfg.SkipVerify, cfg.Timeout),
		apiVersion: apiVersion,
		limiter:    limiter,
		logger:     logger,
	}, nil
}

type vcdRequest struct {
	method      string
	path        string
	rawPath     string
	accept      string
	contentType string
	body        []byte
	auth        string
}

// do sends one request and decodes a JSON body into target when it is non-nil.
func (c *Vcd) do(ctx context.Context, r vcdRequest, target any) (http.Header, error) {
	return throttled(ctx, c.logger, func() (http.Header, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		reqURL := c.baseURL.ResolveReference(&url.URL{Path: r.path, RawPath: r.rawPath})
		req, err := http.NewRequestWithContext(ctx, r.method, reqURL.String(), bytes.NewReader(r.body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request %s %s: %w", r.method, reqURL, err)
		}

		req.Header.Set("Accept", r.accept)
		if r.contentType != "" {
			req.Header.Set("Content-Type", r.contentType)
		}
		if r.auth != "" {
			req.Header.Set("Authorization", r.auth)
		} else if c.token != "" {
			req.Header.Set(headerVcdAuth, c.token)
		}

		c.logger.Debug("Sending request", "method", r.method, "url", reqURL.String())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Error("HTTP request failed", "method", r.method, "url", reqURL.String(), "error", err)
			return nil, fmt.Errorf("http request %s %s failed: %w", r.method, reqURL, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &ErrRateLimited{RetryAfter: parseRetryAfter(resp.Header), Message: resp.Status}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			c.logger.Warn("Received non-2xx status code", "method", r.method, "url", reqURL.String(), "status_code", resp.StatusCode)
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, &StatusError{
				StatusCode: resp.StatusCode,
				Method:     r.method,
				URL:        reqURL.String(),
				Message:    vcdErrorMessage(body),
			}
		}

		if target != nil {
			if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
				return nil, fmt.Errorf("failed to decode response body for %s %s: %w", r.method, reqURL, err)
			}
		}

		c.logger.Debug("Request successful", "method", r.method, "url", reqURL.String(), "status_code", resp.StatusCode)
		return resp.Header, nil
	})
}

func vcdErrorMessage(body []byte) string {
	var errResp struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
		return errResp.Message
	}
	return strings.TrimSpace(string(body))
}

func (c *Vcd) jsonAccept() string {
	return fmt.Sprintf("application/*+json;version=%s", c.apiVersion)
}

func (c *Vcd) cloudAPIAccept() string {
	return fmt.Sprintf("application/json;version=%s", c.apiVersion)
}

// Login opens a session as username@org. The session token is kept on the
// client and sent with every later request.
func (c *Vcd) Login(ctx context.Context, username, password, org string) error {
	if org == "" {
		org = SystemOrgName
	}
	c.logger.Debug("Fetching vcd auth token", "user", username, "org", org)

	creds := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s@%s:%s", username, org, password)))
	header, err := c.do(ctx, vcdRequest{
		method: http.MethodPost,
		path:   "/api/sessions",
		accept: fmt.Sprintf("application/*+xml;version=%s", c.apiVersion),
		auth:   "Basic " + creds,
	}, nil)
	if err != nil {
		return fmt.Errorf("vcd login failed: %w", err)
	}

	token := header.Get(headerVcdAuth)
	if token == "" {
		return fmt.Errorf("vcd login response carried no %s header", headerVcdAuth)
	}
	c.token = token
	return nil
}

func (c *Vcd) requireSession() error {
	if c.token == "" {
		return ErrNotLoggedIn
	}
	return nil
}

// ListOrganizations returns every organization visible to the session.
func (c *Vcd) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	var resp struct {
		Org []struct {
			Name string `json:"name"`
			Href string `json:"href"`
		} `json:"org"`
	}
	if _, err := c.do(ctx, vcdRequest{method: http.MethodGet, path: "/api/org", accept: c.jsonAccept()}, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch organizations: %w", err)
	}

	orgs := make([]models.Organization, 0, len(resp.Org))
	for _, o := range resp.Org {
		orgs = append(orgs, models.Organization{Name: o.Name, ID: path.Base(strings.TrimRight(o.Href, "/"))})
	}
	return orgs, nil
}

// segmentPath fills format with the segments twice: decoded for url.URL.Path
// and escaped for RawPath, so the request line carries each segment escaped
// exactly once.
func segmentPath(format string, segments ...string) (string, string) {
	plain := make([]any, len(segments))
	escaped := make([]any, len(segments))
	for i, seg := range segments {
		plain[i] = seg
		escaped[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf(format, plain...), fmt.Sprintf(format, escaped...)
}

func metadataPath(orgID string) (string, string) {
	return segmentPath("/api/admin/org/%s/metadata", orgID)
}

func metadataEntryPath(orgID, key string) (string, string) {
	return segmentPath("/api/admin/org/%s/metadata/%s", orgID, key)
}

// ListMetadata returns all metadata entries of an organization.
func (c *Vcd) ListMetadata(ctx context.Context, orgID string) ([]models.MetadataEntry, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	var resp struct {
		MetadataEntry []struct {
			Key        string `json:"key"`
			TypedValue struct {
				Value string `json:"value"`
			} `json:"typedValue"`
		} `json:"metadataEntry"`
	}
	p, raw := metadataPath(orgID)
	if _, err := c.do(ctx, vcdRequest{method: http.MethodGet, path: p, rawPath: raw, accept: c.jsonAccept()}, &resp); err != nil {
		return nil, err
	}

	entries := make([]models.MetadataEntry, 0, len(resp.MetadataEntry))
	for _, e := range resp.MetadataEntry {
		entries = append(entries, models.MetadataEntry{Key: e.Key, Value: e.TypedValue.Value})
	}
	return entries, nil
}

type xmlMetadata struct {
	XMLName  xml.Name         `xml:"Metadata"`
	Xmlns    string           `xml:"xmlns,attr"`
	XmlnsXsi string           `xml:"xmlns:xsi,attr"`
	Type     string           `xml:"type,attr"`
	Entry    xmlMetadataEntry `xml:"MetadataEntry"`
}

type xmlMetadataEntry struct {
	Type       string        `xml:"type,attr"`
	Key        string        `xml:"Key"`
	TypedValue xmlTypedValue `xml:"TypedValue"`
}

type xmlTypedValue struct {
	XsiType string `xml:"xsi:type,attr"`
	Value   string `xml:"Value"`
}

func metadataDocument(key, value string) ([]byte, error) {
	doc := xmlMetadata{
		Xmlns:    "http://www.vmware.com/vcloud/v1.5",
		XmlnsXsi: "http://www.w3.org/2001/XMLSchema-instance",
		Type:     "application/vnd.vmware.vcloud.metadata+xml",
		Entry: xmlMetadataEntry{
			Type: "application/vnd.vmware.vcloud.metadata.value+xml",
			Key:  key,
			TypedValue: xmlTypedValue{
				XsiType: "MetadataStringValue",
				Value:   value,
			},
		},
	}
	return xml.Marshal(doc)
}

// SetMetadata creates or replaces one string metadata entry.
func (c *Vcd) SetMetadata(ctx context.Context, orgID, key, value string) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	body, err := metadataDocument(key, value)
	if err != nil {
		return fmt.Errorf("failed to build metadata document: %w", err)
	}
	p, raw := metadataPath(orgID)
	_, err = c.do(ctx, vcdRequest{
		method:      http.MethodPost,
		path:        p,
		rawPath:     raw,
		accept:      c.jsonAccept(),
		contentType: "application/vnd.vmware.vcloud.metadata+xml",
		body:        body,
	}, nil)
	return err
}

// DeleteMetadata removes one metadata entry. Missing entries are not an error.
func (c *Vcd) DeleteMetadata(ctx context.Context, orgID, key string) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	p, raw := metadataEntryPath(orgID, key)
	_, err := c.do(ctx, vcdRequest{
		method:  http.MethodDelete,
		path:    p,
		rawPath: raw,
		accept:  c.jsonAccept(),
	}, nil)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.logger.Debug("Metadata entry already absent", "org", orgID, "key", key)
			return nil
		}
		return err
	}
	return nil
}

// ListUIExtensions returns the registered UI plugins.
func (c *Vcd) ListUIExtensions(ctx context.Context) ([]models.Extension, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	var exts []models.Extension
	if _, err := c.do(ctx, vcdRequest{method: http.MethodGet, path: "/cloudapi/extensions/ui", accept: c.cloudAPIAccept()}, &exts); err != nil {
		return nil, fmt.Errorf("failed to fetch ui extensions: %w", err)
	}
	return exts, nil
}

// UnpublishAll removes the extension from every tenant.
func (c *Vcd) UnpublishAll(ctx context.Context, extensionID string) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	p, raw := segmentPath("/cloudapi/extensions/ui/%s/tenants/unpublishAll", extensionID)
	_, err := c.do(ctx, vcdRequest{
		method:      http.MethodPost,
		path:        p,
		rawPath:     raw,
		accept:      c.cloudAPIAccept(),
		contentType: "application/json",
	}, nil)
	return err
}

// Publish makes the extension visible to exactly the given organizations, on
// top of whatever it is already published to.
func (c *Vcd) Publish(ctx context.Context, extensionID string, orgs []models.Organization) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	body, err := json.Marshal(orgs)
	if err != nil {
		return err
	}
	p, raw := segmentPath("/cloudapi/extensions/ui/%s/tenants/publish", extensionID)
	_, err = c.do(ctx, vcdRequest{
		method:      http.MethodPost,
		path:        p,
		rawPath:     raw,
		accept:      c.cloudAPIAccept(),
		contentType: "application/json",
		body:        body,
	}, nil)
	return err
}
