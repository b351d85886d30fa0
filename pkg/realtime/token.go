package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/buzzwordmojo/vox-reactor/internal/httpc"
)

// TokenFunc returns a credential for provider. It is called once per
// connection attempt per provider.
type TokenFunc func(ctx context.Context, provider ProviderName) (*oauth2.Token, error)

// StaticTokens serves fixed keys, such as API keys loaded from the
// environment.
func StaticTokens(keys map[ProviderName]string) TokenFunc {
	return func(_ context.Context, provider ProviderName) (*oauth2.Token, error) {
		key := keys[provider]
		if key == "" {
			return nil, fmt.Errorf("realtime: no key configured for %s", provider)
		}
		return &oauth2.Token{AccessToken: key, TokenType: "Bearer"}, nil
	}
}

// FromTokenSources adapts per-provider oauth2.TokenSources. Wrap sources
// in oauth2.ReuseTokenSource to cache ephemeral tokens until expiry.
func FromTokenSources(sources map[ProviderName]oauth2.TokenSource) TokenFunc {
	return func(_ context.Context, provider ProviderName) (*oauth2.Token, error) {
		src, ok := sources[provider]
		if !ok {
			return nil, fmt.Errorf("realtime: no token source for %s", provider)
		}
		return src.Token()
	}
}

// HTTPTokenSource fetches short-lived tokens from an application endpoint.
// It POSTs {"provider": "<name>"} and expects {"token": "...",
// "expires_at": <unix seconds, optional>}.
type HTTPTokenSource struct {
	URL    string
	Client *http.Client
	Header http.Header
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	Error     string `json:"error"`
}

// Token implements TokenFunc.
func (s *HTTPTokenSource) Token(ctx context.Context, provider ProviderName) (*oauth2.Token, error) {
	body, err := json.Marshal(map[string]string{"provider": string(provider)})
	if err != nil {
		return nil, err
	}
	raw, err := httpc.Post(ctx, s.Client, s.URL, "application/json", body, s.Header)
	if err != nil {
		return nil, fmt.Errorf("realtime: fetch %s token: %w", provider, err)
	}

	var resp tokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("realtime: decode %s token: %w", provider, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("realtime: token endpoint: %s", resp.Error)
	}

	tok := &oauth2.Token{AccessToken: resp.Token, TokenType: "Bearer"}
	if resp.ExpiresAt > 0 {
		tok.Expiry = time.Unix(resp.ExpiresAt, 0)
	}
	return tok, nil
}

// TokenFunc returns s.Token as a TokenFunc.
func (s *HTTPTokenSource) TokenFunc() TokenFunc {
	return s.Token
}
