// Package domain models the open-data sources the relay fetches from and the
// canonical records it produces.
//
// # Sources
//
// Every upstream integration is described by a [Source]: endpoint, body
// format, cache TTL, retry budget, per-attempt timeout and authentication.
// Sources come from a static catalog loaded at startup and are immutable.
//
// The upstreams are Taiwanese government and transit open-data services:
//
//	CWA (Central Weather Administration)   earthquake reports, forecasts, radar
//	WRA (Water Resources Agency)           reservoir conditions (JSON, often BOM-prefixed)
//	Freeway Bureau / TDX                   highway CCTV (XML), rail live boards (OAuth2)
//	MOENV                                  real-time air quality (AQI)
//
// # Upstream Conventions
//
// Authentication:
//
//	CWA and MOENV take a static key as a query parameter ("Authorization",
//	"api_key"). TDX requires an OAuth2 client-credentials bearer token.
//
// Empty schema:
//
//	When a key is missing or revoked, CWA and MOENV still answer 200 with a
//	body listing only the dataset's "fields" and no "records". That body is
//	reported as [EmptySchema] and retried; it is never treated as "no data".
//
// Time format:
//
//	CWA and WRA send local time as "2006-01-02 15:04:05" or ISO-8601 with a
//	+08:00 offset. Canonical records store UTC.
//
// Shape drift:
//
//	The same endpoint has historically returned differently wrapped bodies
//	(records nested under "result", a single object instead of a list, or
//	the bare record at the root). Normalizers match a closed, ordered set of
//	known shapes and report [UnexpectedShape] when none fits.
//
// # Outcomes
//
// A fetch yields an [Outcome]: Fresh (fetched now or within TTL), Stale
// (a cached record served because the refresh failed) or Failure (no record
// available; [FetchError] carries the cause). A Fresh record with zero items
// means the upstream has no data, which is different from a Failure.
package domain
