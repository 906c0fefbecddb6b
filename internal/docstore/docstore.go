// Package docstore provides document-oriented storage for listener profiles
// and cached aggregation results, keyed by (collection, document id).
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Collections used by the application.
const (
	CollectionUsers       = "users"
	CollectionArtists     = "artists"
	CollectionSearchCache = "spotify_search_cache"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Store is the document storage contract. Set with merge=true overlays the
// given fields onto the existing document (null values overwrite); with
// merge=false the document is replaced wholesale.
type Store interface {
	Get(ctx context.Context, collection, key string) (Document, error)
	Set(ctx context.Context, collection, key string, fields map[string]any, merge bool) error
	Count(ctx context.Context, collection string) (int64, error)
}

// Document is a stored JSON object, one raw message per top-level field.
type Document map[string]json.RawMessage

// Field decodes a single field into out. It returns false when the field is
// absent or null.
func (d Document) Field(name string, out any) (bool, error) {
	raw, ok := d[name]
	if !ok || isJSONNull(raw) {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decoding field %q: %w", name, err)
	}
	return true, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// Key canonicalizes a document identifier so that logically identical keys
// collide to one record: trimmed, lowercased, path-unsafe characters replaced.
func Key(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "/", "_"))
}

// encodeFields marshals each field value to its raw JSON form.
// A nil value becomes JSON null.
func encodeFields(fields map[string]any) (map[string]json.RawMessage, error) {
	encoded := make(map[string]json.RawMessage, len(fields))
	for name, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encoding field %q: %w", name, err)
		}
		encoded[name] = raw
	}
	return encoded, nil
}
