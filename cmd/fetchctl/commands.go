package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/opendata-relay/internal/adapter/upstream"
	"github.com/couchcryptid/opendata-relay/internal/cache"
	"github.com/couchcryptid/opendata-relay/internal/config"
	"github.com/couchcryptid/opendata-relay/internal/domain"
	"github.com/couchcryptid/opendata-relay/internal/fetch"
	"github.com/couchcryptid/opendata-relay/internal/normalize"
	"github.com/couchcryptid/opendata-relay/internal/observability"
	"github.com/couchcryptid/opendata-relay/internal/sources"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fetchctl",
		Short: "Inspect and exercise open-data sources",
		Long: `fetchctl reads the same environment and source catalog as the relay.

Use it to list configured sources, fetch one source with the relay's retry,
cache and normalization behaviour, or check a normalizer against a payload
saved to disk.`,
		Example: `  # List sources and whether their credentials are set
  $ fetchctl sources

  # Fetch a source with query parameters
  $ fetchctl get airquality.aqi --param limit=10

  # Capture a payload, then check it offline
  $ fetchctl capture earthquake.normal -o E-A0015-001.json
  $ fetchctl normalize earthquake E-A0015-001.json`,
		SilenceUsage: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(newSourcesCmd(), newGetCmd(), newCaptureCmd(), newNormalizeCmd())
	return root
}

func loadCatalog() (*config.Config, []domain.Source, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	srcs, err := sources.Load(cfg.SourcesFile, sources.Defaults{
		TTL:        cfg.DefaultCacheTTL,
		MaxRetries: cfg.DefaultMaxRetries,
		BaseDelay:  cfg.DefaultRetryBaseDelay,
		Timeout:    cfg.DefaultTimeout,
	}, cfg.Secrets())
	if err != nil {
		return nil, nil, err
	}
	return cfg, srcs, nil
}

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, srcs, err := loadCatalog()
			if err != nil {
				return err
			}
			missing := make(map[string]bool)
			for _, k := range sources.Unauthorized(srcs) {
				missing[k] = true
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tNORMALIZER\tFORMAT\tTTL\tAUTH\tCREDENTIALS")
			for _, s := range srcs {
				auth := string(s.Auth.Kind)
				if auth == "" {
					auth = "none"
				}
				creds := "ok"
				if missing[s.Key] {
					creds = "missing"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.Key, s.Normalizer, s.Format, s.TTL, auth, creds)
			}
			return tw.Flush()
		},
	}
}

// getResult is the JSON document printed by get.
type getResult struct {
	Source     string            `json:"source"`
	Status     domain.Status     `json:"status"`
	Params     map[string]string `json:"params,omitempty"`
	FetchedAt  *time.Time        `json:"fetched_at,omitempty"`
	AgeSeconds float64           `json:"age_seconds,omitempty"`
	Record     any               `json:"record,omitempty"`
	Error      string            `json:"error,omitempty"`
	Attempts   int               `json:"attempts,omitempty"`
	LastStatus int               `json:"last_status,omitempty"`
}

func newGetCmd() *cobra.Command {
	var (
		params  []string
		timeout time.Duration
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "get <source>",
		Short: "Fetch one source and print the normalized record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			cfg, srcs, err := loadCatalog()
			if err != nil {
				return err
			}

			logger := observability.DiscardLogger()
			if verbose {
				logger = observability.NewLogger(cfg.LogLevel, "text")
			}
			coord, _, err := newCoordinator(cfg, srcs, logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			out := coord.Get(ctx, args[0], p)

			res := getResult{Source: args[0], Status: out.Status, Params: p}
			if out.OK() {
				res.FetchedAt = &out.FetchedAt
				res.AgeSeconds = out.Age.Seconds()
				res.Record = out.Record
			} else if out.Err != nil {
				res.Error = out.Err.Error()
				res.Attempts = out.Err.Attempts
				res.LastStatus = out.Err.LastStatus
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !out.OK() {
				return fmt.Errorf("%s: %s", args[0], out.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "request parameter as key=value (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline including retries")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log fetch attempts to stdout")
	return cmd
}

// newCoordinator wires a coordinator the way the relay does, minus the
// process-wide metrics registry.
func newCoordinator(cfg *config.Config, srcs []domain.Source, logger *slog.Logger) (*fetch.Coordinator, *upstream.Client, error) {
	metrics := observability.NewMetricsForTesting()
	client := upstream.NewClient(upstream.Options{MaxConnsPerHost: cfg.TransportMaxConnsPerHost}, logger, metrics)
	coord := fetch.New(cache.New(nil), client, logger, metrics, nil)
	if err := sources.RegisterAll(coord, srcs, normalize.NewRegistry(nil)); err != nil {
		return nil, nil, err
	}
	client.SetTokenSource(fetch.NewTokenSource(coord))
	return coord, client, nil
}

func newCaptureCmd() *cobra.Command {
	var (
		params []string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "capture <source>",
		Short: "Save one raw upstream response as a test fixture",
		Long: `Perform a single request to a source, without retries or normalization,
and write the body exactly as received. The status line goes to stderr.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			cfg, srcs, err := loadCatalog()
			if err != nil {
				return err
			}
			coord, client, err := newCoordinator(cfg, srcs, observability.DiscardLogger())
			if err != nil {
				return err
			}
			src, ok := coord.Source(args[0])
			if !ok {
				return fmt.Errorf("%w: %q", domain.ErrUnknownSource, args[0])
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), src.Timeout)
			defer cancel()
			resp, err := client.Do(ctx, src, p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: HTTP %d, %s, %d bytes\n", src.Key, resp.Status, resp.ContentType, len(resp.Body))

			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(resp.Body)
				return err
			}
			return os.WriteFile(out, resp.Body, 0o600)
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "request parameter as key=value (repeatable)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "file to write the body to (default stdout)")
	return cmd
}

func parseParams(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid param %q, want key=value", kv)
		}
		out[k] = v
	}
	return out, nil
}

func newNormalizeCmd() *cobra.Command {
	var (
		format      string
		contentType string
	)
	cmd := &cobra.Command{
		Use:   "normalize <normalizer> <file>",
		Short: "Normalize a saved payload and check the result is stable",
		Long: `Decode a payload saved to disk, normalize it, and print the record.

The record is then normalized again, both as a value and as its JSON
encoding, and the command fails if either pass changes it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := normalize.NewRegistry(nil)
			n, ok := reg.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown normalizer %q (have %s)", args[0], strings.Join(reg.Names(), ", "))
			}
			body, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			rec, err := normalizeFile(n, domain.Format(format), contentType, body)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(domain.FormatAuto), "payload format: json, json-bom, xml, rss or auto")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content-Type the payload was served with")
	return cmd
}

var errNotIdempotent = errors.New("normalizer is not idempotent")

// normalizeFile decodes and normalizes body, then verifies that normalizing
// the record, or the decoded JSON encoding of the record, yields the same
// record.
func normalizeFile(n normalize.Normalizer, format domain.Format, contentType string, body []byte) (any, error) {
	raw, err := normalize.Decode(format, contentType, body)
	if err != nil {
		return nil, err
	}
	rec, err := n.Normalize(raw)
	if err != nil {
		return nil, err
	}

	again, err := n.Normalize(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: record rejected on second pass: %v", errNotIdempotent, err)
	}
	if diff := cmp.Diff(rec, again); diff != "" {
		return nil, fmt.Errorf("%w (-first +second):\n%s", errNotIdempotent, diff)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	tree, err := normalize.Decode(domain.FormatJSON, "application/json", data)
	if err != nil {
		return nil, err
	}
	fromJSON, err := n.Normalize(tree)
	if err != nil {
		return nil, fmt.Errorf("%w: canonical JSON rejected: %v", errNotIdempotent, err)
	}
	if diff := cmp.Diff(rec, fromJSON); diff != "" {
		return nil, fmt.Errorf("%w for canonical JSON (-record +reparsed):\n%s", errNotIdempotent, diff)
	}
	return rec, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
