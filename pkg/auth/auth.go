// Package auth provides Admin API access token sources.
//
// Private apps hold a static token; public apps obtain one through the
// OAuth authorization-code grant against the shop's /admin/oauth endpoints.
// Both are exposed behind the TokenSource interface consumed by the GraphQL
// client.
package auth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/shopgraph/shopgraph/pkg/errors"
)

// TokenSource supplies the access token sent on every Admin API request.
type TokenSource interface {
	// AccessToken returns a valid token. Implementations may refresh or
	// exchange credentials; callers must not cache the result.
	AccessToken(ctx context.Context) (string, error)
}

// StaticToken is a fixed Admin API access token.
type StaticToken string

// AccessToken implements TokenSource.
func (t StaticToken) AccessToken(_ context.Context) (string, error) {
	if t == "" {
		return "", errors.New(errors.ErrorTypeAuthentication, "access token is empty")
	}
	return string(t), nil
}

// OAuthConfig configures the authorization-code exchange for a public app.
type OAuthConfig struct {
	// ShopDomain is the myshopify domain of the store installing the app
	ShopDomain string
	// ClientID is the app's API key
	ClientID string
	// ClientSecret is the app's API secret
	ClientSecret string
	// RedirectURL must match one of the app's allowed redirect URLs
	RedirectURL string
	// Scopes requested during installation, e.g. "read_products"
	Scopes []string
}

// oauth2Config builds the x/oauth2 configuration for the shop's endpoints.
func (c *OAuthConfig) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   fmt.Sprintf("https://%s/admin/oauth/authorize", c.ShopDomain),
			TokenURL:  fmt.Sprintf("https://%s/admin/oauth/access_token", c.ShopDomain),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthCodeURL returns the installation URL the merchant is redirected to.
func (c *OAuthConfig) AuthCodeURL(state string) string {
	return c.oauth2Config().AuthCodeURL(state)
}

// Exchange trades an authorization code for a permanent access token.
// Shopify Admin tokens do not expire, so the result is wrapped in a
// StaticToken.
func (c *OAuthConfig) Exchange(ctx context.Context, code string) (TokenSource, error) {
	tok, err := c.oauth2Config().Exchange(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "oauth code exchange failed").
			WithDetail("shop", c.ShopDomain)
	}
	return StaticToken(tok.AccessToken), nil
}
