package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Update announces that a source produced a record different from the one
// previously cached for the same key.
type Update struct {
	SourceKey string    `json:"source"`
	CacheKey  string    `json:"key"`
	Digest    string    `json:"digest"`
	FetchedAt time.Time `json:"fetched_at"`
	Record    any       `json:"record"`
}

// OutputEvent is the serialized form handed to publishers.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Digest returns a deterministic content hash of a normalized record.
// encoding/json sorts map keys, so equal records always hash equally.
func Digest(record any) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("digest record: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16]), nil
}

// SerializeUpdate encodes an update for a message broker. The cache key is
// the message key so updates for one key stay ordered within a partition.
func SerializeUpdate(u Update) (OutputEvent, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize update: %w", err)
	}
	return OutputEvent{
		Key:   []byte(u.CacheKey),
		Value: data,
		Headers: map[string]string{
			"source":     u.SourceKey,
			"digest":     u.Digest,
			"fetched_at": u.FetchedAt.Format(time.RFC3339),
		},
	}, nil
}
