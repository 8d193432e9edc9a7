package sap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/singleflight"

	"github.com/dvhoang/cpidash/internal/config"
)

// Tokens are treated as expired this long before the tenant says so, to
// avoid sending a request that dies mid-flight.
const tokenExpiryMargin = 60 * time.Second

// tokenManager caches one OAuth client-credentials token. Concurrent
// callers needing a refresh share a single token request.
type tokenManager struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	clock        func() time.Time

	sf singleflight.Group

	mu        sync.Mutex
	token     string
	fetchedAt time.Time
	expiresAt time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// TokenStatus describes the cached OAuth token for the status endpoint.
type TokenStatus struct {
	HasToken  bool  `json:"hasToken"`
	Valid     bool  `json:"valid"`
	FetchedAt int64 `json:"fetchedAt,omitempty"` // unix ms
	ExpiresAt int64 `json:"expiresAt,omitempty"` // unix ms
	ExpiresIn int64 `json:"expiresIn,omitempty"` // seconds until expiry
}

func newTokenManager(cfg *config.Config, httpClient *http.Client) *tokenManager {
	return &tokenManager{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   httpClient,
		clock:        time.Now,
	}
}

// Token returns the cached token, fetching a new one when absent or
// inside the expiry margin.
func (m *tokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.validLocked() {
		token := m.token
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	v, err, _ := m.sf.Do("token", func() (any, error) {
		m.mu.Lock()
		if m.validLocked() {
			token := m.token
			m.mu.Unlock()
			return token, nil
		}
		m.mu.Unlock()
		return m.fetch(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *tokenManager) validLocked() bool {
	return m.token != "" && m.clock().Before(m.expiresAt.Add(-tokenExpiryMargin))
}

func (m *tokenManager) fetch(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(m.clientID, m.clientSecret)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d from token endpoint", resp.StatusCode)
	}

	var tr tokenResponse
	if err := sonic.ConfigFastest.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access_token")
	}

	now := m.clock()
	m.mu.Lock()
	m.token = tr.AccessToken
	m.fetchedAt = now
	m.expiresAt = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	m.mu.Unlock()
	return tr.AccessToken, nil
}

// Invalidate drops the cached token so the next call fetches a fresh one.
func (m *tokenManager) Invalidate() {
	m.mu.Lock()
	m.token = ""
	m.fetchedAt = time.Time{}
	m.expiresAt = time.Time{}
	m.mu.Unlock()
}

func (m *tokenManager) Status() TokenStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := TokenStatus{HasToken: m.token != ""}
	if !status.HasToken {
		return status
	}
	now := m.clock()
	status.Valid = now.Before(m.expiresAt.Add(-tokenExpiryMargin))
	status.FetchedAt = m.fetchedAt.UnixMilli()
	status.ExpiresAt = m.expiresAt.UnixMilli()
	if remaining := m.expiresAt.Sub(now); remaining > 0 {
		status.ExpiresIn = int64(remaining.Seconds())
	}
	return status
}

// Refresh forces a new token fetch regardless of the cached one.
func (m *tokenManager) Refresh(ctx context.Context) (TokenStatus, error) {
	m.Invalidate()
	if _, err := m.Token(ctx); err != nil {
		return TokenStatus{}, err
	}
	return m.Status(), nil
}
