// Package pip is the policy information point: the engine asks it for
// entities by id and gets storage merged with the caller's transaction
// overlay, so policies see writes that canonical storage has not caught up
// with yet.
package pip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"authzen/internal/storage"
	"authzen/internal/txcache"
	"authzen/pkg/domain"
	"authzen/pkg/requestcontext"
)

var (
	// ErrDecode is a request that names no registered object or carries no
	// usable id selector.
	ErrDecode = errors.New("pip: deserialization failed")
	// ErrEncode is a result that could not be written as JSON.
	ErrEncode = errors.New("pip: serialization failed")
)

// Request selects entities of one object type. Exactly one of ID and IDs is
// set.
type Request struct {
	Service string          `json:"service"`
	Type    string          `json:"type"`
	ID      json.RawMessage `json:"id,omitempty"`
	IDs     json.RawMessage `json:"ids,omitempty"`
}

// Object returns the requested object type.
func (r Request) Object() domain.ObjectType {
	return domain.ObjectType{Service: r.Service, Type: r.Type}
}

// Result is an encoded query response.
type Result struct {
	// Body is a JSON object keyed by entity id in merged order.
	Body   []byte
	Header http.Header
	Count  int
}

// Fetch reads live entities from canonical storage.
type Fetch[T any, ID comparable] func(ctx context.Context, ids []ID) ([]T, error)

type query func(ctx context.Context, txID domain.TransactionID, req Request) (*Result, error)

// Service answers queries for registered object types. It is safe for
// concurrent use.
type Service struct {
	cache   txcache.Store
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	mu      sync.RWMutex
	queries map[domain.ObjectType]query
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs a Service reading overlays from cache.
func NewService(cache txcache.Store, opts ...Option) *Service {
	s := &Service{
		cache:   cache,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:  otel.Tracer("authzen/internal/pip"),
		queries: make(map[domain.ObjectType]query),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Objects lists the registered object types.
func (s *Service) Objects() []domain.ObjectType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ObjectType, 0, len(s.queries))
	for object := range s.queries {
		out = append(out, object)
	}
	return out
}

// ObjectOption configures one registered object type.
type ObjectOption[T any] func(*objectConfig[T])

type objectConfig[T any] struct {
	headers func([]T) http.Header
}

// WithHeaders adds response headers computed from the merged entities.
func WithHeaders[T any](fn func([]T) http.Header) ObjectOption[T] {
	return func(c *objectConfig[T]) { c.headers = fn }
}

// Register makes object queryable. Registering the same object twice
// replaces the earlier fetch.
func Register[T storage.Entity[ID], ID comparable](s *Service, object domain.ObjectType, fetch Fetch[T, ID], opts ...ObjectOption[T]) {
	var cfg objectConfig[T]
	for _, opt := range opts {
		opt(&cfg)
	}

	q := func(ctx context.Context, txID domain.TransactionID, req Request) (*Result, error) {
		ids, err := decodeIDs[ID](req)
		if err != nil {
			return nil, err
		}

		var (
			stored  []T
			overlay map[ID]txcache.Entity[T, ID]
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			stored, err = fetch(gctx, ids)
			return err
		})
		if !txID.IsZero() {
			g.Go(func() error {
				var err error
				overlay, err = txcache.Entities[T, ID](gctx, s.cache, txID, object)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		merged := Merge[T, ID](stored, overlay, ids)
		body, err := encodeObject[T, ID](merged)
		if err != nil {
			return nil, err
		}
		res := &Result{Body: body, Header: http.Header{}, Count: len(merged)}
		if cfg.headers != nil {
			for k, v := range cfg.headers(merged) {
				res.Header[k] = v
			}
		}
		return res, nil
	}

	s.mu.Lock()
	s.queries[object] = q
	s.mu.Unlock()
}

// Query resolves req against storage and the transaction carried by ctx.
func (s *Service) Query(ctx context.Context, req Request) (*Result, error) {
	object := req.Object()
	s.mu.RLock()
	q, ok := s.queries[object]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown object %s", ErrDecode, object)
	}

	txID := requestcontext.TransactionID(ctx)
	ctx, span := s.tracer.Start(ctx, "pip.query", trace.WithAttributes(
		attribute.String("authzen.object", object.String()),
		attribute.String("authzen.transaction_id", txID.String()),
	))
	defer span.End()

	start := time.Now()
	res, err := q(ctx, txID, req)
	s.metrics.observeQuery(object.String(), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.incrementQuery(object.String(), "failed")
		s.logger.WarnContext(ctx, "pip query failed",
			"object", object.String(),
			"transaction_id", txID.String(),
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, err
	}
	s.metrics.incrementQuery(object.String(), "ok")
	span.SetAttributes(attribute.Int("authzen.count", res.Count))
	return res, nil
}

func decodeIDs[ID comparable](req Request) ([]ID, error) {
	hasOne, hasMany := present(req.ID), present(req.IDs)
	switch {
	case hasOne && hasMany:
		return nil, fmt.Errorf("%w: both id and ids given", ErrDecode)
	case hasOne:
		var id ID
		if err := json.Unmarshal(req.ID, &id); err != nil {
			return nil, fmt.Errorf("%w: id: %w", ErrDecode, err)
		}
		return []ID{id}, nil
	case hasMany:
		var ids []ID
		if err := json.Unmarshal(req.IDs, &ids); err != nil {
			return nil, fmt.Errorf("%w: ids: %w", ErrDecode, err)
		}
		return storage.Dedupe(ids), nil
	default:
		return nil, fmt.Errorf("%w: missing id selector", ErrDecode)
	}
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
