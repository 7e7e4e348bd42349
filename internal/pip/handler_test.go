package pip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"authzen/internal/decision"
	"authzen/internal/platform/health"
	"authzen/internal/storage"
	"authzen/internal/txcache"
	"authzen/pkg/domain"
	dErrors "authzen/pkg/domain-errors"
	"authzen/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	cache    *txcache.Memory
	replica  *replica
	router   http.Handler
	healthy  error
	fetchErr error
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.cache = txcache.NewMemory()
	s.replica = &replica{rows: map[uuid.UUID]doc{}}
	s.healthy = nil

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(s.cache, WithLogger(logger))
	Register[doc, uuid.UUID](svc, docObject, s.replica.fetch,
		WithHeaders(func(docs []doc) http.Header {
			return http.Header{"X-Doc-Count": []string{fmt.Sprint(len(docs))}}
		}),
	)
	h := NewHandler(svc, logger, map[string]health.Check{
		"engine": func(context.Context) error { return s.healthy },
	})
	s.router = NewRouter(h, nil)
}

func (s *HandlerSuite) query(txID domain.TransactionID, body any) *http.Request {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/", body)
	return testutil.WithTransaction(req, txID)
}

func (s *HandlerSuite) TestQuery() {
	stored := doc{ID: uuid.New(), Title: "stored"}
	pending := doc{ID: uuid.New(), Title: "pending"}
	s.replica.rows[stored.ID] = stored
	txID := domain.NewTransactionID()
	s.Require().NoError(txcache.Manage[doc, uuid.UUID](context.Background(), s.cache, txID, docObject, txcache.EffectUpsert, []doc{pending}))

	body := map[string]any{"service": "test", "type": "doc", "ids": []uuid.UUID{pending.ID, stored.ID}}

	s.Run("with transaction", func() {
		rr := testutil.DoRequest(s.router, s.query(txID, body))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		s.Equal("application/json", rr.Header().Get("Content-Type"))
		s.Equal("2", rr.Header().Get("X-Doc-Count"))
		s.Equal(txID.String(), rr.Header().Get("X-Transaction-Id"))

		want := fmt.Sprintf(`{%q:{"id":%q,"title":"stored"},%q:{"id":%q,"title":"pending"}}`,
			stored.ID, stored.ID, pending.ID, pending.ID)
		s.JSONEq(want, rr.Body.String())
		s.Equal(want, rr.Body.String(), "storage order first, then overlay-only ids")
	})

	s.Run("without transaction", func() {
		rr := testutil.DoRequest(s.router, s.query("", body))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		got := testutil.UnmarshalResponse[map[string]doc](s.T(), rr)
		s.Len(*got, 1)
		s.Contains(*got, stored.ID.String())
	})
}

func (s *HandlerSuite) TestErrorStatus() {
	valid := map[string]any{"service": "test", "type": "doc", "id": uuid.New()}

	s.Run("malformed json is a deserialization error", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/", `{"service":`)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusInternalServerError, "internal_error")
	})

	s.Run("unknown object is a deserialization error", func() {
		body := map[string]any{"service": "test", "type": "nope", "id": uuid.New()}
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, s.query("", body)), http.StatusInternalServerError, "internal_error")
	})

	s.Run("malformed transaction id is rejected", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/", valid)
		req.Header.Set("X-Transaction-Id", "bad{id}")
		testutil.AssertStatus(s.T(), testutil.DoRequest(s.router, req), http.StatusBadRequest)
	})

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", storage.ErrNotFound, http.StatusNotFound},
		{"forbidden", &decision.DeniedError{Action: domain.ActionRead, Object: docObject}, http.StatusForbidden},
		{"timeout", dErrors.New(dErrors.CodeTimeout, "slow"), http.StatusGatewayTimeout},
		{"cache unavailable", &txcache.Error{Op: "entries", Err: errors.New("down")}, http.StatusServiceUnavailable},
		{"uncoded", errors.New("boom"), http.StatusBadRequest},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.replica.err = tc.err
			defer func() { s.replica.err = nil }()
			rr := testutil.DoRequest(s.router, s.query("", valid))
			testutil.AssertStatus(s.T(), rr, tc.status)
		})
	}
}

func (s *HandlerSuite) TestHealth() {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/health", nil))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)

	s.healthy = errors.New("engine unreachable")
	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/health", nil))
	testutil.AssertStatus(s.T(), rr, http.StatusServiceUnavailable)
	got := testutil.UnmarshalResponse[map[string]string](s.T(), rr)
	s.Equal("degraded", (*got)["status"])
}

func (s *HandlerSuite) TestMetricsEndpoint() {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/metrics", nil))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
}
