// Package sources loads the catalog of upstream descriptors.
package sources

import (
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/opendata-relay/internal/domain"
)

//go:embed sources.yaml
var embedded []byte

// Defaults fill descriptor fields the catalog leaves unset.
type Defaults struct {
	TTL        time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	Timeout    time.Duration
}

type catalogFile struct {
	Sources []entry `yaml:"sources"`
}

type entry struct {
	Key                string            `yaml:"key"`
	URL                string            `yaml:"url"`
	Method             string            `yaml:"method"`
	Format             string            `yaml:"format"`
	Normalizer         string            `yaml:"normalizer"`
	TTL                time.Duration     `yaml:"ttl"`
	MaxRetries         int               `yaml:"max_retries"`
	BaseDelay          time.Duration     `yaml:"base_delay"`
	Timeout            time.Duration     `yaml:"timeout"`
	InsecureSkipVerify bool              `yaml:"insecure_skip_verify"`
	Query              map[string]string `yaml:"query"`
	Params             []string          `yaml:"params"`
	Form               map[string]string `yaml:"form"`
	Auth               *authEntry        `yaml:"auth"`
}

type authEntry struct {
	Kind        string `yaml:"kind"`
	Param       string `yaml:"param"`
	Secret      string `yaml:"secret"`
	TokenSource string `yaml:"token_source"`
}

// Load reads the catalog at path, or the embedded catalog when path is
// empty, and resolves it against defaults and secrets.
func Load(path string, defaults Defaults, secrets map[string]string) ([]domain.Source, error) {
	data := embedded
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read source catalog: %w", err)
		}
	}
	return Parse(data, defaults, secrets)
}

// Parse decodes a YAML catalog. Secret references are replaced by their
// values; an unset secret resolves to "" and is reported by Unauthorized.
func Parse(data []byte, defaults Defaults, secrets map[string]string) ([]domain.Source, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse source catalog: %w", err)
	}
	if len(file.Sources) == 0 {
		return nil, errors.New("source catalog is empty")
	}

	seen := make(map[string]bool, len(file.Sources))
	out := make([]domain.Source, 0, len(file.Sources))
	for i, e := range file.Sources {
		src, err := e.resolve(defaults, secrets)
		if err != nil {
			return nil, fmt.Errorf("source #%d (%s): %w", i+1, e.Key, err)
		}
		if seen[src.Key] {
			return nil, fmt.Errorf("duplicate source key %q", src.Key)
		}
		seen[src.Key] = true
		out = append(out, src)
	}

	for _, src := range out {
		if src.Auth.Kind == domain.AuthOAuth2 && !seen[src.Auth.TokenSource] {
			return nil, fmt.Errorf("source %s: token source %q is not in the catalog", src.Key, src.Auth.TokenSource)
		}
	}
	return out, nil
}

func (e entry) resolve(defaults Defaults, secrets map[string]string) (domain.Source, error) {
	if e.Key == "" {
		return domain.Source{}, errors.New("key is required")
	}
	if e.Normalizer == "" {
		return domain.Source{}, errors.New("normalizer is required")
	}
	u, err := url.Parse(e.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return domain.Source{}, fmt.Errorf("invalid url %q", e.URL)
	}

	src := domain.Source{
		Key:                e.Key,
		URL:                e.URL,
		Method:             strings.ToUpper(e.Method),
		Format:             domain.Format(e.Format),
		Normalizer:         e.Normalizer,
		TTL:                orDefault(e.TTL, defaults.TTL),
		MaxRetries:         e.MaxRetries,
		BaseDelay:          orDefault(e.BaseDelay, defaults.BaseDelay),
		Timeout:            orDefault(e.Timeout, defaults.Timeout),
		InsecureSkipVerify: e.InsecureSkipVerify,
		Query:              e.Query,
		Params:             e.Params,
	}
	if src.MaxRetries <= 0 {
		src.MaxRetries = defaults.MaxRetries
	}

	switch src.Method {
	case "":
		src.Method = http.MethodGet
	case http.MethodGet, http.MethodPost:
	default:
		return domain.Source{}, fmt.Errorf("unsupported method %q", e.Method)
	}

	switch src.Format {
	case "":
		src.Format = domain.FormatJSON
	case domain.FormatJSON, domain.FormatJSONBOM, domain.FormatXML, domain.FormatRSS, domain.FormatAuto:
	default:
		return domain.Source{}, fmt.Errorf("unsupported format %q", e.Format)
	}

	if len(e.Form) > 0 {
		src.Form = make(map[string]string, len(e.Form))
		for k, v := range e.Form {
			src.Form[k] = os.Expand(v, func(name string) string { return secrets[name] })
		}
	}

	if e.Auth != nil {
		src.Auth, err = e.Auth.resolve(secrets)
		if err != nil {
			return domain.Source{}, err
		}
	}
	return src, nil
}

func (a authEntry) resolve(secrets map[string]string) (domain.Auth, error) {
	switch domain.AuthKind(a.Kind) {
	case domain.AuthNone:
		return domain.Auth{}, nil
	case domain.AuthAPIKey:
		if a.Param == "" || a.Secret == "" {
			return domain.Auth{}, errors.New("api_key auth needs param and secret")
		}
		return domain.Auth{Kind: domain.AuthAPIKey, Param: a.Param, Secret: secrets[a.Secret]}, nil
	case domain.AuthOAuth2:
		if a.TokenSource == "" {
			return domain.Auth{}, errors.New("oauth2 auth needs token_source")
		}
		return domain.Auth{Kind: domain.AuthOAuth2, TokenSource: a.TokenSource}, nil
	default:
		return domain.Auth{}, fmt.Errorf("unknown auth kind %q", a.Kind)
	}
}

// Unauthorized lists sources whose credentials resolved to nothing. They
// still load; upstream calls will fail until the secret is configured.
func Unauthorized(srcs []domain.Source) []string {
	var keys []string
	for _, s := range srcs {
		if s.Auth.Kind == domain.AuthAPIKey && s.Auth.Secret == "" {
			keys = append(keys, s.Key)
		}
		if s.Method == http.MethodPost {
			for _, v := range s.Form {
				if v == "" {
					keys = append(keys, s.Key)
					break
				}
			}
		}
	}
	return keys
}

func orDefault(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
