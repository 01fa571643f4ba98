package fetch

import (
	"context"
	"fmt"

	"github.com/couchcryptid/opendata-relay/internal/domain"
)

// TokenSource issues OAuth2 bearer tokens by fetching the token endpoint
// through the Coordinator, so tokens are cached until they expire and
// concurrent refreshes collapse into one request.
type TokenSource struct {
	coord *Coordinator
}

// NewTokenSource returns a TokenSource backed by coord.
func NewTokenSource(coord *Coordinator) *TokenSource {
	return &TokenSource{coord: coord}
}

// Token implements upstream.TokenSource. A stale token is still handed out
// while it has not expired; an expired token never is.
func (t *TokenSource) Token(ctx context.Context, tokenSourceKey string) (string, error) {
	out := t.coord.Get(ctx, tokenSourceKey, nil)
	if out.Status == domain.StatusFailure {
		return "", out.Err
	}

	tok, ok := domain.RecordAs[domain.AccessToken](out)
	if !ok {
		return "", fmt.Errorf("source %s returned %T, not an access token", tokenSourceKey, out.Record)
	}
	if out.Status == domain.StatusStale && !tok.Expiry.IsZero() && !t.coord.cache.Now().Before(tok.Expiry) {
		return "", fmt.Errorf("token from %s expired at %s and could not be refreshed", tokenSourceKey, tok.Expiry.Format("2006-01-02T15:04:05Z07:00"))
	}
	return tok.Token, nil
}
