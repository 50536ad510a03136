package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	vault "github.com/printcmd/printcmd/subsystem/vault/storage"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

// tokenEarlyExpiry refreshes cached tokens this long before their
// declared expiry.
const tokenEarlyExpiry = 60 * time.Second

// tenantState is the process-wide per-tenant token source and hourly
// limiter. Exactly one state exists per tenant; oauth2's reuse source
// serializes refreshes, so concurrent callers await a single in-flight
// refresh rather than issuing their own.
type tenantState struct {
	tokens  oauth2.TokenSource
	limiter *rate.Limiter
}

type tenantCache struct {
	mu     sync.Mutex
	states map[string]*tenantState
	hourly int
}

func newTenantCache(hourly int) *tenantCache {
	return &tenantCache{
		states: make(map[string]*tenantState),
		hourly: hourly,
	}
}

// state returns the tenant's cached state, creating it from the vault
// credential on first use.
func (tc *tenantCache) state(ctx context.Context, c *Client, tenantID string) (*tenantState, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if t, ok := tc.states[tenantID]; ok {
		return t, nil
	}

	cred, err := c.creds.RetrieveCredential(ctx, tenantID)
	if errors.Is(err, vault.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrReconnectRequired, err)
	} else if err != nil {
		return nil, fmt.Errorf("retrieving credential: %w", err)
	}

	tokens, err := tokenSource(c, cred)
	if err != nil {
		return nil, err
	}

	t := &tenantState{
		tokens:  tokens,
		limiter: rate.NewLimiter(rate.Limit(float64(tc.hourly)/3600), tc.hourly/10+1),
	}
	tc.states[tenantID] = t
	return t, nil
}

func (tc *tenantCache) invalidate(tenantID string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	delete(tc.states, tenantID)
}

// tokenSource builds a token source from a vault credential: OAuth2
// client credentials when present, falling back to a pre-issued static
// token. Client-credentials tokens are cached until 60s before their
// declared expiry and refreshed transparently on next use.
func tokenSource(c *Client, cred *vault.Credential) (oauth2.TokenSource, error) {
	if cred.ClientID != "" && cred.ClientSecret != "" {
		cfg := &clientcredentials.Config{
			ClientID:     cred.ClientID,
			ClientSecret: cred.ClientSecret,
			TokenURL:     c.baseURL + "/o/token/",
		}
		tokCtx := context.WithValue(context.Background(), oauth2.HTTPClient, c.client)
		return oauth2.ReuseTokenSourceWithExpiry(nil, cfg.TokenSource(tokCtx), tokenEarlyExpiry), nil
	}
	if cred.Token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.Token, TokenType: "Bearer"}), nil
	}
	return nil, fmt.Errorf("%w: credential has no token or client credentials", ErrReconnectRequired)
}
