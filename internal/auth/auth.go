// Package auth manages the bearer token used for the realtime handshake:
// expiry inspection, proactive refresh against the HTTP API, and encrypted
// caching between runs.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nuvola-ai/converse-go/pkg/logger"
)

// DefaultRefreshWindow is how close to expiry a token may get before Token
// refreshes it proactively.
const DefaultRefreshWindow = 5 * time.Minute

// Manager hands out a usable bearer token, refreshing and re-caching it when
// the current one is close to expiry.
type Manager struct {
	serverURL string
	client    *http.Client
	store     *CredentialStore
	window    time.Duration

	mu    sync.Mutex
	creds Credentials
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient overrides the HTTP client used for refresh calls.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.client = client }
}

// WithRefreshWindow overrides the proactive refresh window.
func WithRefreshWindow(window time.Duration) Option {
	return func(m *Manager) { m.window = window }
}

// NewManager builds a Manager for the given API base URL. store may be nil,
// in which case tokens are held in memory only.
func NewManager(serverURL string, store *CredentialStore, opts ...Option) *Manager {
	m := &Manager{
		serverURL: strings.TrimSuffix(serverURL, "/"),
		client:    &http.Client{Timeout: 30 * time.Second},
		store:     store,
		window:    DefaultRefreshWindow,
	}
	for _, opt := range opts {
		opt(m)
	}
	if store != nil {
		if creds, ok, err := store.Load(); err != nil {
			logger.Warnf("auth: cached credentials unreadable: %v", err)
		} else if ok {
			m.creds = creds
		}
	}
	return m
}

// SetCredentials installs a token pair, replacing whatever is cached.
func (m *Manager) SetCredentials(creds Credentials) error {
	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()
	if m.store != nil {
		return m.store.Save(creds)
	}
	return nil
}

// Token returns a bearer token fit for the handshake, refreshing first when
// the cached one expires within the refresh window.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	creds := m.creds
	m.mu.Unlock()

	if strings.TrimSpace(creds.Token) == "" {
		return "", fmt.Errorf("no credentials; authenticate first")
	}

	expiring, err := IsExpiringSoon(creds.Token, m.window)
	if err != nil {
		return "", err
	}
	if !expiring {
		return creds.Token, nil
	}
	if creds.RefreshToken == "" {
		// Nothing to refresh with; hand out the token and let the server
		// decide.
		return creds.Token, nil
	}

	refreshed, err := m.refresh(ctx, creds)
	if err != nil {
		return "", err
	}
	return refreshed.Token, nil
}

// Refresh forces a refresh round-trip regardless of expiry.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	creds := m.creds
	m.mu.Unlock()
	if creds.RefreshToken == "" {
		return fmt.Errorf("no refresh token")
	}
	_, err := m.refresh(ctx, creds)
	return err
}

func (m *Manager) refresh(ctx context.Context, creds Credentials) (Credentials, error) {
	body, err := json.Marshal(map[string]string{
		"token":        creds.Token,
		"refreshToken": creds.RefreshToken,
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.serverURL+"/v1/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return Credentials{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	resp, err := m.client.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("refresh token: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Credentials{}, fmt.Errorf("read refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Credentials{}, fmt.Errorf("refresh failed: status %d", resp.StatusCode)
	}

	var parsed struct {
		Success      bool   `json:"success"`
		Token        string `json:"token"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Credentials{}, fmt.Errorf("parse refresh response: %w", err)
	}
	if !parsed.Success || parsed.Token == "" {
		return Credentials{}, fmt.Errorf("refresh rejected")
	}

	next := Credentials{Token: parsed.Token, RefreshToken: parsed.RefreshToken}
	if next.RefreshToken == "" {
		next.RefreshToken = creds.RefreshToken
	}

	m.mu.Lock()
	m.creds = next
	m.mu.Unlock()
	if m.store != nil {
		if err := m.store.Save(next); err != nil {
			logger.Warnf("auth: cache refreshed credentials: %v", err)
		}
	}
	logger.Debugf("auth: token refreshed")
	return next, nil
}
