package domain

import "time"

// Status is the freshness class of a fetch outcome.
type Status string

const (
	StatusFresh   Status = "fresh"
	StatusStale   Status = "stale"
	StatusFailure Status = "failure"
)

// Outcome is the result of a coordinated fetch. Exactly one of Record or Err
// is meaningful: Fresh and Stale carry a record, Failure carries Err.
type Outcome struct {
	Status    Status
	Record    any
	FetchedAt time.Time
	Age       time.Duration // set for Stale
	Err       *FetchError   // set for Failure
}

// Fresh builds a Fresh outcome.
func Fresh(record any, fetchedAt time.Time) Outcome {
	return Outcome{Status: StatusFresh, Record: record, FetchedAt: fetchedAt}
}

// Stale builds a degraded-success outcome from a cached record.
func Stale(record any, fetchedAt time.Time, age time.Duration) Outcome {
	return Outcome{Status: StatusStale, Record: record, FetchedAt: fetchedAt, Age: age}
}

// Failure builds a Failure outcome.
func Failure(err *FetchError) Outcome {
	return Outcome{Status: StatusFailure, Err: err}
}

// OK reports whether the outcome carries a record.
func (o Outcome) OK() bool {
	return o.Status == StatusFresh || o.Status == StatusStale
}

// RecordAs returns the outcome's record as T.
func RecordAs[T any](o Outcome) (T, bool) {
	if !o.OK() {
		var zero T
		return zero, false
	}
	rec, ok := o.Record.(T)
	return rec, ok
}

// Expirer is implemented by records that become unusable at a fixed instant,
// such as access tokens. A cache never reports such a record as fresh past
// its expiry, whatever the source TTL says.
type Expirer interface {
	ExpiresAt() time.Time
}
