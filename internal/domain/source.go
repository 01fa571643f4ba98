package domain

import (
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"
)

// Format describes how an upstream body is encoded.
type Format string

const (
	FormatJSON    Format = "json"
	FormatJSONBOM Format = "json-bom" // JSON that may carry a UTF-8 byte order mark
	FormatXML     Format = "xml"
	FormatRSS     Format = "rss"
	FormatAuto    Format = "auto" // Content-Type is unreliable; sniff the body
)

// AuthKind selects how requests to a source are authenticated.
type AuthKind string

const (
	AuthNone   AuthKind = ""
	AuthAPIKey AuthKind = "api_key"
	AuthOAuth2 AuthKind = "oauth2"
)

// Auth holds the resolved credentials for a source.
type Auth struct {
	Kind AuthKind
	// Param is the query parameter carrying the API key, e.g. "Authorization" for CWA.
	Param string
	// Secret is the resolved API key. Never logged.
	Secret string
	// TokenSource is the key of the source that issues OAuth2 tokens.
	TokenSource string
}

// Source identifies one upstream integration variant. Sources are built once
// at startup from the catalog and never mutated afterwards.
type Source struct {
	Key        string
	URL        string
	Method     string
	Format     Format
	Normalizer string

	TTL        time.Duration
	MaxRetries int // total attempts, 1 means no retry
	BaseDelay  time.Duration
	Timeout    time.Duration // per attempt

	// InsecureSkipVerify relaxes TLS verification for this source only.
	// Some government endpoints present certificates that fail strict checks.
	InsecureSkipVerify bool

	Query map[string]string
	// Params lists the request parameters consumers may pass.
	Params []string
	Form   map[string]string // POST form body, used by token endpoints
	Auth   Auth
}

// CheckParams returns ErrUnknownParam for the first parameter, in sorted
// order, that the source does not accept.
func (s Source) CheckParams(params map[string]string) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !slices.Contains(s.Params, k) {
			return fmt.Errorf("%w %q for source %s", ErrUnknownParam, k, s.Key)
		}
	}
	return nil
}

// CacheKey combines the source key with request parameters so each parameter
// combination is cached and collapsed independently. Parameters are sorted
// to make the key deterministic.
func CacheKey(sourceKey string, params map[string]string) string {
	if len(params) == 0 {
		return sourceKey
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(sourceKey)
	b.WriteByte('?')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}
