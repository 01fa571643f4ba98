package normalize

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/opendata-relay/internal/domain"
)

// tokenExpiryMargin is subtracted from expires_in so a cached token is
// refreshed before the issuer starts rejecting it.
const tokenExpiryMargin = 60 * time.Second

// Token normalizes an OAuth2 client-credentials token response.
type Token struct {
	Clock clockwork.Clock
}

func (Token) Name() string { return "oauth2_token" }

func (t Token) Normalize(raw any) (any, error) {
	switch v := raw.(type) {
	case domain.AccessToken:
		return v, nil
	case *domain.AccessToken:
		return *v, nil
	}

	m, ok := asMap(raw)
	if !ok {
		return nil, &domain.NormalizationError{Kind: domain.UnexpectedShape, Err: errors.New("token response is " + describe(raw))}
	}

	if _, ok := m["token"]; ok {
		tok, _, err := canonical[domain.AccessToken](raw, "token")
		if err != nil {
			return nil, err
		}
		if tok.Token == "" {
			return nil, missing("token")
		}
		return tok, nil
	}

	if e := str(m["error"]); e != "" {
		msg := e
		if d := str(m["error_description"]); d != "" {
			msg += ": " + d
		}
		return nil, &domain.NormalizationError{Kind: domain.UnexpectedShape, Err: errors.New("token endpoint: " + msg)}
	}

	access := str(m["access_token"])
	if access == "" {
		return nil, missing("access_token")
	}
	tok := domain.AccessToken{Token: access, Type: str(m["token_type"])}
	if tok.Type == "" {
		tok.Type = "Bearer"
	}

	clock := t.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	now := clock.Now()
	if secs, ok := integer(m["expires_in"]); ok && secs > 0 {
		ttl := time.Duration(secs)*time.Second - tokenExpiryMargin
		if ttl < 0 {
			ttl = 0
		}
		tok.Expiry = now.Add(ttl).UTC()
	}
	return tok, nil
}
