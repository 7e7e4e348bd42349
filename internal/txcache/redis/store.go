// Package redis stores the transaction overlay in Redis. Every entry is its
// own key with a TTL; index sets make Entries and Clear possible without
// SCAN.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"authzen/internal/txcache"
	"authzen/pkg/domain"
)

var opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "authzen_txcache_redis_duration_seconds",
	Help:    "Latency of transaction cache operations against Redis",
	Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
}, []string{"op"})

const keyPrefix = "txcache:"

// segmentEscaper keeps ':' out of service and type names so distinct object
// types never share a key.
var segmentEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// Store implements txcache.Store on go-redis.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides txcache.DefaultTTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// New constructs a Redis-backed overlay store.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, ttl: txcache.DefaultTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// txKey holds the index keys a transaction has touched.
func txKey(txID domain.TransactionID) string {
	return keyPrefix + "{" + txID.String() + "}"
}

// indexKey holds the entry keys of one object type within a transaction.
func indexKey(txID domain.TransactionID, object domain.ObjectType) string {
	return fmt.Sprintf("%s{%s}:idx:%s", keyPrefix, txID, objectSegment(object))
}

func entryKey(txID domain.TransactionID, object domain.ObjectType, key string) string {
	return fmt.Sprintf("%s{%s}:ent:%s:%s", keyPrefix, txID, objectSegment(object), key)
}

func objectSegment(object domain.ObjectType) string {
	return segmentEscaper.Replace(object.Service) + ":" + segmentEscaper.Replace(object.Type)
}

func (s *Store) Put(ctx context.Context, txID domain.TransactionID, object domain.ObjectType, entries []txcache.Entry) error {
	if txID.IsZero() || len(entries) == 0 {
		return nil
	}
	defer observe("put", time.Now())

	idx := indexKey(txID, object)
	members := make([]any, 0, len(entries))
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			payload, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal entry %s: %w", e.Key, err)
			}
			pipe.Set(ctx, entryKey(txID, object, e.Key), payload, s.ttl)
			members = append(members, e.Key)
		}
		pipe.SAdd(ctx, idx, members...)
		pipe.Expire(ctx, idx, s.ttl)
		pipe.SAdd(ctx, txKey(txID), idx)
		pipe.Expire(ctx, txKey(txID), s.ttl)
		return nil
	})
	if err != nil {
		return &txcache.Error{Op: "put", Err: err}
	}
	return nil
}

func (s *Store) Entries(ctx context.Context, txID domain.TransactionID, object domain.ObjectType) ([]txcache.Entry, error) {
	if txID.IsZero() {
		return nil, nil
	}
	defer observe("entries", time.Now())

	keys, err := s.client.SMembers(ctx, indexKey(txID, object)).Result()
	if err != nil {
		return nil, &txcache.Error{Op: "entries", Err: err}
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = entryKey(txID, object, k)
	}
	values, err := s.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, &txcache.Error{Op: "entries", Err: err}
	}

	out := make([]txcache.Entry, 0, len(values))
	for i, v := range values {
		// Index members whose entry expired read back as nil.
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var e txcache.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, &txcache.Error{Op: "entries", Err: fmt.Errorf("decode %s: %w", full[i], err)}
		}
		out = append(out, e)
	}
	return out, nil
}

// Clear removes every key the transaction wrote. Failures for individual
// object types are collected and the rest still run.
func (s *Store) Clear(ctx context.Context, txID domain.TransactionID) error {
	if txID.IsZero() {
		return nil
	}
	defer observe("clear", time.Now())

	indexes, err := s.client.SMembers(ctx, txKey(txID)).Result()
	if err != nil {
		return &txcache.Error{Op: "clear", Err: err}
	}

	var result *multierror.Error
	for _, idx := range indexes {
		if err := s.clearIndex(ctx, idx); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", idx, err))
		}
	}
	if err := s.client.Del(ctx, txKey(txID)).Err(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return &txcache.Error{Op: "clear", Err: err}
	}
	return nil
}

func (s *Store) clearIndex(ctx context.Context, idx string) error {
	keys, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return err
	}
	// Entry keys share the index prefix up to the ":idx:" marker.
	prefix, suffix := splitIndex(idx)
	del := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		del = append(del, prefix+":ent:"+suffix+":"+k)
	}
	del = append(del, idx)
	return s.client.Del(ctx, del...).Err()
}

func splitIndex(idx string) (prefix, suffix string) {
	prefix, suffix, _ = strings.Cut(idx, ":idx:")
	return prefix, suffix
}

func observe(op string, start time.Time) {
	opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
