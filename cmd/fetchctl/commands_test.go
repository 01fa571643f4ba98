package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/opendata-relay/internal/normalize"
)

const quakePayload = `{"success":"true","records":{"Earthquake":[{"EarthquakeNo":11410005,"ReportContent":"花蓮縣近海發生規模5.0有感地震","EarthquakeInfo":{"OriginTime":"2025-03-01 08:14:23","EarthquakeMagnitude":{"MagnitudeValue":5.0}}}]}}`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNormalizeCmd(t *testing.T) {
	path := writeFile(t, "quake.json", "\ufeff"+quakePayload)

	out, err := execute(t, "normalize", "earthquake", path, "--format", "json-bom")
	require.NoError(t, err)

	var got struct {
		Reports []struct {
			ID int64 `json:"id"`
		} `json:"reports"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Reports, 1)
	assert.Equal(t, int64(11410005), got.Reports[0].ID)
}

func TestNormalizeCmd_Errors(t *testing.T) {
	path := writeFile(t, "schema.json", `{"success":"true","result":{"fields":[{"id":"EarthquakeNo"}]}}`)

	_, err := execute(t, "normalize", "nope", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown normalizer")

	_, err = execute(t, "normalize", "earthquake", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty_schema")

	_, err = execute(t, "normalize", "earthquake", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestNormalizeFile_Idempotent(t *testing.T) {
	reg := normalize.NewRegistry(nil)
	for _, name := range []string{"earthquake", "alerts"} {
		t.Run(name, func(t *testing.T) {
			n, ok := reg.Get(name)
			require.True(t, ok)
			body := quakePayload
			if name == "alerts" {
				body = `<rss version="2.0"><channel><title>Alerts</title><item><title>Heavy rain</title><link>https://example.org/1</link><pubDate>Sat, 01 Mar 2025 08:00:00 +0800</pubDate></item></channel></rss>`
			}
			_, err := normalizeFile(n, "auto", "", []byte(body))
			require.NoError(t, err)
		})
	}
}

func TestGetCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(quakePayload))
	}))
	defer srv.Close()

	t.Setenv("SOURCES_FILE", writeFile(t, "sources.yaml", fmt.Sprintf(`
sources:
  - key: local.quake
    url: %s
    normalizer: earthquake
    max_retries: 1
`, srv.URL)))

	out, err := execute(t, "get", "local.quake", "--param", "limit=5")
	require.NoError(t, err)

	var res getResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "fresh", string(res.Status))
	assert.Equal(t, map[string]string{"limit": "5"}, res.Params)
	assert.NotNil(t, res.FetchedAt)
}

func TestGetCmd_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	t.Setenv("SOURCES_FILE", writeFile(t, "sources.yaml", fmt.Sprintf(`
sources:
  - key: local.quake
    url: %s
    normalizer: earthquake
    max_retries: 1
`, srv.URL)))

	out, err := execute(t, "get", "local.quake")
	require.Error(t, err)
	assert.Contains(t, out, `"status": "failure"`)
	assert.Contains(t, out, `"last_status": 502`)

	_, err = execute(t, "get", "local.quake", "--param", "novalue")
	require.Error(t, err)
}

func TestSourcesCmd(t *testing.T) {
	t.Setenv("CWA_API_KEY", "CWA-TEST")

	out, err := execute(t, "sources")
	require.NoError(t, err)
	assert.Contains(t, out, "KEY")
	assert.Regexp(t, `earthquake\.normal\s+earthquake\s+json\s+2m0s\s+api_key\s+ok`, out)
	assert.Regexp(t, `airquality\.aqi\s+.*missing`, out)
	assert.NotContains(t, out, "CWA-TEST")
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"a=1", "b=x=y", "c="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "x=y", "c": ""}, got)

	got, err = parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseParams([]string{"=1"})
	assert.Error(t, err)
}

func TestCaptureCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(quakePayload))
	}))
	defer srv.Close()

	t.Setenv("SOURCES_FILE", writeFile(t, "sources.yaml", fmt.Sprintf(`
sources:
  - key: local.quake
    url: %s
    normalizer: earthquake
`, srv.URL)))

	path := filepath.Join(t.TempDir(), "fixture.json")
	out, err := execute(t, "capture", "local.quake", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "HTTP 200")

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, quakePayload, string(body))

	_, err = execute(t, "capture", "nope")
	require.Error(t, err)
}
