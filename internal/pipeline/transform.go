package pipeline

import (
	"context"

	"github.com/couchcryptid/opendata-relay/internal/domain"
)

// UpdateSerializer implements Transformer with the JSON update encoding.
type UpdateSerializer struct{}

func (UpdateSerializer) Transform(_ context.Context, u domain.Update) (domain.OutputEvent, error) {
	return domain.SerializeUpdate(u)
}
