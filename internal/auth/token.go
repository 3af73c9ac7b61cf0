// Package auth obtains machine-to-machine tokens for the group directory and
// guards the operator routes.
package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Config holds the client-credentials settings of the token endpoint.
type Config struct {
	TokenURL     string
	ProxyURL     string
	ClientID     string
	ClientSecret string
	Audience     string
	// EarlyExpiry renews a cached token this long before it expires.
	EarlyExpiry time.Duration
}

// Endpoint returns the URL tokens are requested from. A configured proxy
// endpoint takes precedence over the token URL.
func (c Config) Endpoint() string {
	if c.ProxyURL != "" {
		return c.ProxyURL
	}
	return c.TokenURL
}

// Provider hands out cached client-credentials access tokens.
type Provider struct {
	src oauth2.TokenSource
}

// NewProvider creates a token provider. Tokens are fetched with httpClient
// and reused until EarlyExpiry before they expire.
func NewProvider(cfg Config, httpClient *http.Client) *Provider {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.Endpoint(),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if cfg.Audience != "" {
		cc.EndpointParams = url.Values{"audience": {cfg.Audience}}
	}

	ctx := context.Background()
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}

	return &Provider{
		src: oauth2.ReuseTokenSourceWithExpiry(nil, cc.TokenSource(ctx), cfg.EarlyExpiry),
	}
}

// Token returns a valid bearer token.
func (p *Provider) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := p.src.Token()
	if err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", errors.New("token endpoint returned an empty access token")
	}
	return tok.AccessToken, nil
}
