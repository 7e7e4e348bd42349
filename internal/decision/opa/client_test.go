package opa

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"authzen/internal/decision"
	"authzen/internal/decision/metrics"
	"authzen/pkg/domain"
	dErrors "authzen/pkg/domain-errors"
)

var cartObject = domain.ObjectType{Service: "examples_cart", Type: "cart"}

type ClientSuite struct {
	suite.Suite
	ctx context.Context
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *ClientSuite) engine(handler http.HandlerFunc) *httptest.Server {
	srv := httptest.NewServer(handler)
	s.T().Cleanup(srv.Close)
	return srv
}

func respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func event() decision.Event {
	return decision.Event{
		Subject: "acct-1",
		Action:  domain.ActionCreate,
		Object:  cartObject,
		Input:   []map[string]string{{"id": "c1"}},
	}
}

func (s *ClientSuite) TestFailClosed() {
	cases := map[string]string{
		"absent result":    `{}`,
		"null result":      `{"result": null}`,
		"false result":     `{"result": false}`,
		"string result":    `{"result": "true"}`,
		"number result":    `{"result": 1}`,
		"object result":    `{"result": {"allow": true}}`,
		"array result":     `{"result": [true]}`,
		"undecodable body": `not json`,
		"empty body":       ``,
	}
	for name, body := range cases {
		s.Run(name, func() {
			srv := s.engine(respond(body))
			err := New(srv.URL).CanAct(s.ctx, event())
			s.Require().ErrorIs(err, decision.ErrDenied)
			s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		})
	}
}

func (s *ClientSuite) TestAllowsOnlyTrue() {
	srv := s.engine(respond(`{"result": true}`))
	s.NoError(New(srv.URL).CanAct(s.ctx, event()))
}

func (s *ClientSuite) TestRequestShape() {
	var (
		gotPath  string
		gotQuery map[string][]string
		gotBody  map[string]json.RawMessage
	)
	srv := s.engine(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = io.WriteString(w, `{"result": true}`)
	})

	client := New(srv.URL,
		WithRule("policies/app", "allow"),
		WithExplain("notes"),
		WithPretty(true),
		WithInstrument(true),
		WithEngineMetrics(true),
		WithData(map[string]string{"tenant": "t1"}),
	)
	ev := event()
	ev.TransactionID = "tx-1"
	s.Require().NoError(client.CanAct(s.ctx, ev))

	s.Equal("/v1/data/policies/app/allow", gotPath)
	s.Equal([]string{"notes"}, gotQuery["explain"])
	s.Equal([]string{"true"}, gotQuery["pretty"])
	s.Equal([]string{"true"}, gotQuery["instrument"])
	s.Equal([]string{"true"}, gotQuery["metrics"])
	s.JSONEq(`{"tenant":"t1"}`, string(gotBody["data"]))

	var input map[string]json.RawMessage
	s.Require().NoError(json.Unmarshal(gotBody["input"], &input))
	s.JSONEq(`"acct-1"`, string(input["subject"]))
	s.JSONEq(`"create"`, string(input["action"]))
	s.JSONEq(`{"service":"examples_cart","type":"cart"}`, string(input["object"]))
	s.JSONEq(`"tx-1"`, string(input["transaction_id"]))
}

func (s *ClientSuite) TestDefaultPathWithoutParams() {
	var gotURI string
	srv := s.engine(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.URL.RequestURI()
		_, _ = io.WriteString(w, `{"result": true}`)
	})
	s.Require().NoError(New(srv.URL + "/").CanAct(s.ctx, event()))
	s.Equal("/v1/data/app/authz", gotURI)
}

func (s *ClientSuite) TestDenialCarriesDiagnostics() {
	srv := s.engine(respond(`{"result": false, "explanation": ["Enter data.app.authz"], "metrics": {"timer_rego_query_eval_ns": 12}}`))

	err := New(srv.URL).CanAct(s.ctx, event())
	var denied *decision.DeniedError
	s.Require().ErrorAs(err, &denied)
	s.Equal(domain.ActionCreate, denied.Action)
	s.Equal(cartObject, denied.Object)
	s.JSONEq(`["Enter data.app.authz"]`, string(denied.Explanation))
	s.JSONEq(`{"timer_rego_query_eval_ns": 12}`, string(denied.Metrics))
}

func (s *ClientSuite) TestTimeoutIsDistinct() {
	srv := s.engine(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		_, _ = io.WriteString(w, `{"result": true}`)
	})

	err := New(srv.URL, WithTimeout(50*time.Millisecond)).CanAct(s.ctx, event())
	s.Require().ErrorIs(err, decision.ErrTimeout)
	s.NotErrorIs(err, decision.ErrDenied)
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
}

func (s *ClientSuite) TestServerErrorsAreRetriedThenTransport() {
	var calls atomic.Int32
	srv := s.engine(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	err := New(srv.URL, WithRetry(2, time.Millisecond, 2*time.Millisecond)).CanAct(s.ctx, event())
	s.Require().ErrorIs(err, decision.ErrTransport)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Equal(int32(3), calls.Load())
}

type closeCounter struct {
	base   http.RoundTripper
	opened atomic.Int32
	closed atomic.Int32
}

type countedBody struct {
	io.ReadCloser
	closed *atomic.Int32
}

func (b *countedBody) Close() error {
	b.closed.Add(1)
	return b.ReadCloser.Close()
}

func (c *closeCounter) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := c.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	c.opened.Add(1)
	resp.Body = &countedBody{ReadCloser: resp.Body, closed: &c.closed}
	return resp, nil
}

func (s *ClientSuite) TestExhaustedServerErrorsCloseBodies() {
	srv := s.engine(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})
	transport := &closeCounter{base: http.DefaultTransport}
	client := New(srv.URL,
		WithHTTPClient(&http.Client{Transport: transport}),
		WithRetry(0, time.Millisecond, 2*time.Millisecond),
	)

	for range 10 {
		s.Require().ErrorIs(client.CanAct(s.ctx, event()), decision.ErrTransport)
	}
	s.Equal(int32(10), transport.opened.Load())
	s.Equal(transport.opened.Load(), transport.closed.Load(), "every failed response is closed")
}

func (s *ClientSuite) TestDenialIsNotRetried() {
	var calls atomic.Int32
	srv := s.engine(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"result": false}`)
	})

	err := New(srv.URL, WithRetry(3, time.Millisecond, 2*time.Millisecond)).CanAct(s.ctx, event())
	s.Require().ErrorIs(err, decision.ErrDenied)
	s.Equal(int32(1), calls.Load())
}

func (s *ClientSuite) TestClientErrorStatusIsTransport() {
	srv := s.engine(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"code":"invalid_parameter"}`, http.StatusBadRequest)
	})
	err := New(srv.URL).CanAct(s.ctx, event())
	s.Require().ErrorIs(err, decision.ErrTransport)
	s.Contains(err.Error(), "400")
}

func (s *ClientSuite) TestUnreachableEngine() {
	srv := httptest.NewServer(respond(`{"result": true}`))
	url := srv.URL
	srv.Close()

	err := New(url, WithRetry(0, 0, 0)).CanAct(s.ctx, event())
	s.Require().ErrorIs(err, decision.ErrTransport)
}

func (s *ClientSuite) TestMetricsRecordOutcome() {
	srv := s.engine(respond(`{"result": false}`))
	m := metrics.New(prometheus.NewRegistry())

	_ = New(srv.URL, WithMetrics(m)).CanAct(s.ctx, event())
	s.Equal(1.0, testutil.ToFloat64(m.Outcome.WithLabelValues("denied", "create", "examples_cart/cart")))
}

func (s *ClientSuite) TestHealth() {
	srv := s.engine(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	s.NoError(New(srv.URL).Health(s.ctx))

	down := s.engine(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	s.ErrorIs(New(down.URL).Health(s.ctx), decision.ErrTransport)
}
