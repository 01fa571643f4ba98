package sources

import (
	"fmt"

	"github.com/couchcryptid/opendata-relay/internal/domain"
	"github.com/couchcryptid/opendata-relay/internal/normalize"
)

// Registrar accepts source registrations. *fetch.Coordinator implements it.
type Registrar interface {
	Register(src domain.Source, n normalize.Normalizer) error
}

// RegisterAll registers every source with the normalizer its descriptor
// names.
func RegisterAll(r Registrar, srcs []domain.Source, normalizers *normalize.Registry) error {
	for _, src := range srcs {
		n, ok := normalizers.Get(src.Normalizer)
		if !ok {
			return fmt.Errorf("source %s: unknown normalizer %q", src.Key, src.Normalizer)
		}
		if err := r.Register(src, n); err != nil {
			return err
		}
	}
	return nil
}
