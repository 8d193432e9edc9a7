// Package sap talks to the SAP Cloud Integration OData API: package and
// artifact listings, configuration reads, deployments, and the OAuth
// token lifecycle behind them.
package sap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/singleflight"

	"github.com/dvhoang/cpidash/internal/catalog"
	"github.com/dvhoang/cpidash/internal/config"
)

// ErrNotConfigured is returned when tenant credentials are missing.
var ErrNotConfigured = errors.New("sap tenant credentials not configured")

type Client struct {
	cfg        *config.Config
	httpClient *http.Client
	tokens     *tokenManager
	sf         singleflight.Group // For deduplicating concurrent artifact requests
}

type packagesResponse struct {
	D struct {
		Results []packageEntry `json:"results"`
	} `json:"d"`
}

type packageEntry struct {
	ID           string `json:"Id"`
	Name         string `json:"Name"`
	Description  string `json:"Description"`
	ShortText    string `json:"ShortText"`
	Version      string `json:"Version"`
	Mode         string `json:"Mode"`
	ModifiedDate string `json:"ModifiedDate"`
	ModifiedBy   string `json:"ModifiedBy"`
	CreationDate string `json:"CreationDate"`
	CreatedBy    string `json:"CreatedBy"`
}

func NewClient(cfg *config.Config) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		tokens:     newTokenManager(cfg, httpClient),
	}
}

// Configured reports whether the tenant connection is fully specified.
func (c *Client) Configured() bool {
	return c.cfg.APIBaseURL != "" && c.cfg.TokenURL != "" &&
		c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

// FetchPackages lists every integration package on the tenant. Dates come
// back in whatever shape the tenant produces and are passed through raw.
func (c *Client) FetchPackages(ctx context.Context) ([]catalog.RawRecord, error) {
	body, err := c.getJSON(ctx, c.apiURL("/IntegrationPackages"))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch package list: %w", err)
	}

	var response packagesResponse
	if err := sonic.ConfigFastest.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse package list: %w", err)
	}

	records := make([]catalog.RawRecord, 0, len(response.D.Results))
	for _, p := range response.D.Results {
		description := p.Description
		if description == "" {
			description = p.ShortText
		}
		records = append(records, catalog.RawRecord{
			ID:           p.ID,
			Name:         p.Name,
			Description:  description,
			Version:      p.Version,
			Status:       modeToStatus(p.Mode),
			ModifiedDate: p.ModifiedDate,
			ModifiedBy:   p.ModifiedBy,
			CreatedDate:  p.CreationDate,
			CreatedBy:    p.CreatedBy,
		})
	}
	return records, nil
}

// TokenStatus reports the cached OAuth token without touching the tenant.
func (c *Client) TokenStatus() TokenStatus {
	return c.tokens.Status()
}

// RefreshToken discards the cached token and fetches a new one.
func (c *Client) RefreshToken(ctx context.Context) (TokenStatus, error) {
	if !c.Configured() {
		return TokenStatus{}, ErrNotConfigured
	}
	return c.tokens.Refresh(ctx)
}

func (c *Client) apiURL(path string) string {
	return strings.TrimSuffix(c.cfg.APIBaseURL, "/") + path
}

func (c *Client) getJSON(ctx context.Context, url string) ([]byte, error) {
	return c.doJSON(ctx, http.MethodGet, url)
}

// doJSON performs an authenticated request. A 401 invalidates the cached
// token and the request is retried once with a fresh one.
func (c *Client) doJSON(ctx context.Context, method, url string) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire token: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("User-Agent", "cpidash/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request to %s failed: %w", url, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			c.tokens.Invalidate()
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
		}
		return body, nil
	}
}

// odataKey quotes a value for use inside an OData key predicate.
func odataKey(v string) string {
	return "'" + url.PathEscape(v) + "'"
}

func modeToStatus(mode string) string {
	switch strings.ToUpper(mode) {
	case "EDIT_ALLOWED":
		return catalog.StatusActive
	case "READ_ONLY":
		return catalog.StatusDeprecated
	default:
		return catalog.StatusDraft
	}
}
