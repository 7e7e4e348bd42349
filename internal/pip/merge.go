package pip

import (
	"bytes"
	"encoding/json"
	"fmt"

	"authzen/internal/storage"
	"authzen/internal/txcache"
)

// Merge overlays a transaction's entries on a storage read.
//
// A tombstone removes the id. An upsert replaces the stored value or adds
// the id when storage lacks it. Ids without an entry keep the stored value.
// Stored ids come first in storage order, then overlay-only ids in requested
// order. Overlay entries for ids that were not requested are ignored and no
// id appears twice.
func Merge[T storage.Entity[ID], ID comparable](stored []T, overlay map[ID]txcache.Entity[T, ID], requested []ID) []T {
	if len(overlay) == 0 {
		return dedupe[T, ID](stored)
	}
	out := make([]T, 0, len(stored)+len(overlay))
	seen := make(map[ID]struct{}, len(stored)+len(overlay))
	for _, entity := range stored {
		id := entity.EntityID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		entry, ok := overlay[id]
		switch {
		case !ok:
			out = append(out, entity)
		case entry.Exists:
			out = append(out, entry.Value)
		}
	}
	for _, id := range requested {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if entry, ok := overlay[id]; ok && entry.Exists {
			out = append(out, entry.Value)
		}
	}
	return out
}

func dedupe[T storage.Entity[ID], ID comparable](in []T) []T {
	seen := make(map[ID]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, entity := range in {
		if _, dup := seen[entity.EntityID()]; dup {
			continue
		}
		seen[entity.EntityID()] = struct{}{}
		out = append(out, entity)
	}
	return out
}

// encodeObject writes entities as one JSON object keyed by id, keeping
// slice order.
func encodeObject[T storage.Entity[ID], ID comparable](entities []T) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, entity := range entities {
		key, err := txcache.Key(entity.EntityID())
		if err != nil {
			return nil, fmt.Errorf("%w: key: %w", ErrEncode, err)
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, fmt.Errorf("%w: key: %w", ErrEncode, err)
		}
		v, err := json.Marshal(entity)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrEncode, key, err)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
