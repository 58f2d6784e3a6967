package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// TokenProvider hands out a bearer token for the device management API.
// The client asks for a token before every call; providers decide how
// long a token stays valid.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider always returns the same token. Used in tests and
// for gateway deployments where an upstream proxy injects credentials.
type StaticTokenProvider struct {
	Value string
}

func (p *StaticTokenProvider) Token(ctx context.Context) (string, error) {
	if p.Value == "" {
		return "", &APIError{Kind: ErrKindUnauthorized, Message: "no token configured"}
	}
	return p.Value, nil
}

// ClientCredentialsProvider fetches tokens via the OAuth2 client
// credentials grant and caches them until shortly before expiry.
type ClientCredentialsProvider struct {
	httpClient   *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
	scope        string

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewClientCredentialsProvider creates a provider for the given token
// endpoint and client credentials.
func NewClientCredentialsProvider(tokenURL, clientID, clientSecret, scope string) *ClientCredentialsProvider {
	return &ClientCredentialsProvider{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		scope:        scope,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token returns a cached token while it has at least a minute left,
// otherwise fetches a new one.
func (p *ClientCredentialsProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Until(p.expires) > time.Minute {
		return p.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", p.clientID)
	form.Set("client_secret", p.clientSecret)
	form.Set("scope", p.scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	log.Printf("[Token] → POST %s", p.tokenURL)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		log.Printf("[Token] ✗ request failed: %v", err)
		return "", &APIError{Kind: ErrKindNetwork, Message: fmt.Sprintf("token request failed: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &APIError{Kind: ErrKindNetwork, Message: fmt.Sprintf("failed to read token response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[Token] ✗ status %d: %s", resp.StatusCode, string(body))
		return "", &APIError{Kind: ErrKindUnauthorized, StatusCode: resp.StatusCode, Message: "token endpoint rejected credentials"}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", &APIError{Kind: ErrKindDecoding, Message: fmt.Sprintf("failed to unmarshal token response: %v", err)}
	}
	if tr.AccessToken == "" {
		return "", &APIError{Kind: ErrKindUnauthorized, Message: "token endpoint returned empty token"}
	}

	p.token = tr.AccessToken
	p.expires = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	log.Printf("[Token] ← token acquired, expires in %ds", tr.ExpiresIn)

	return p.token, nil
}
