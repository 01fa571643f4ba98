package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/couchcryptid/opendata-relay/internal/domain"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// StripBOM removes a leading UTF-8 byte order mark.
func StripBOM(body []byte) []byte {
	return bytes.TrimPrefix(body, utf8BOM)
}

// Decode turns an upstream body into a raw tree: a JSON value (numbers as
// json.Number), an *XMLNode, or a *gofeed.Feed. A leading BOM is always
// stripped before JSON decoding. Failures are UnexpectedShape errors.
func Decode(format domain.Format, contentType string, body []byte) (any, error) {
	var (
		raw any
		err error
	)
	switch format {
	case domain.FormatJSON, domain.FormatJSONBOM, "":
		raw, err = decodeJSON(body)
		if err != nil && looksLikeHTML(contentType, body) {
			err = fmt.Errorf("expected JSON, got %q error page: %w", contentType, err)
		}
	case domain.FormatXML:
		raw, err = decodeXML(StripBOM(body))
	case domain.FormatRSS:
		raw, err = gofeed.NewParser().Parse(bytes.NewReader(StripBOM(body)))
	case domain.FormatAuto:
		raw, err = decodeAuto(body)
	default:
		err = fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return nil, &domain.NormalizationError{Kind: domain.UnexpectedShape, Err: err}
	}
	return raw, nil
}

func decodeJSON(body []byte) (any, error) {
	body = bytes.TrimSpace(StripBOM(body))
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	// Exactly one JSON value per body.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode json: trailing data after offset %d", dec.InputOffset())
	}
	return v, nil
}

// decodeAuto ignores the declared content type. Some endpoints label JSON as
// text/html or send it double-encoded as a JSON string; XML is the last resort.
func decodeAuto(body []byte) (any, error) {
	v, jsonErr := decodeJSON(body)
	if jsonErr == nil {
		if s, ok := v.(string); ok {
			inner := strings.TrimSpace(s)
			if strings.HasPrefix(inner, "{") || strings.HasPrefix(inner, "[") {
				return decodeJSON([]byte(inner))
			}
		}
		return v, nil
	}

	trimmed := bytes.TrimSpace(StripBOM(body))
	if bytes.HasPrefix(trimmed, []byte("<")) {
		node, err := decodeXML(trimmed)
		if err == nil {
			return node, nil
		}
		return nil, errors.Join(jsonErr, err)
	}
	return nil, jsonErr
}

func looksLikeHTML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "html") {
		return true
	}
	trimmed := bytes.ToLower(bytes.TrimSpace(StripBOM(body)))
	return bytes.HasPrefix(trimmed, []byte("<!doctype html")) || bytes.HasPrefix(trimmed, []byte("<html"))
}
