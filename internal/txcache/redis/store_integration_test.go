//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"authzen/internal/txcache"
	txredis "authzen/internal/txcache/redis"
	"authzen/pkg/domain"
	"authzen/pkg/testutil/containers"
)

type note struct {
	ID   uuid.UUID `json:"id"`
	Body string    `json:"body"`
}

func (n note) EntityID() uuid.UUID { return n.ID }

var noteObject = domain.ObjectType{Service: "test", Type: "note"}

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *txredis.Store
	ctx   context.Context
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.store = txredis.New(s.redis.Client, txredis.WithTTL(time.Second))
	s.ctx = context.Background()
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisStoreSuite) TestLatestWriteWins() {
	tx := domain.NewTransactionID()
	n := note{ID: uuid.New(), Body: "v1"}
	s.Require().NoError(txcache.Manage[note, uuid.UUID](s.ctx, s.store, tx, noteObject, txcache.EffectUpsert, []note{n}))

	n.Body = "v2"
	s.Require().NoError(txcache.Manage[note, uuid.UUID](s.ctx, s.store, tx, noteObject, txcache.EffectUpsert, []note{n}))

	got, err := txcache.Entities[note, uuid.UUID](s.ctx, s.store, tx, noteObject)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("v2", got[n.ID].Value.Body)

	s.Require().NoError(txcache.Manage[note, uuid.UUID](s.ctx, s.store, tx, noteObject, txcache.EffectTombstone, []note{n}))
	got, err = txcache.Entities[note, uuid.UUID](s.ctx, s.store, tx, noteObject)
	s.Require().NoError(err)
	s.False(got[n.ID].Exists)
}

func (s *RedisStoreSuite) TestEntriesExpire() {
	tx := domain.NewTransactionID()
	n := note{ID: uuid.New(), Body: "short-lived"}
	s.Require().NoError(txcache.Manage[note, uuid.UUID](s.ctx, s.store, tx, noteObject, txcache.EffectUpsert, []note{n}))

	s.Eventually(func() bool {
		got, err := txcache.Entities[note, uuid.UUID](s.ctx, s.store, tx, noteObject)
		return err == nil && len(got) == 0
	}, 5*time.Second, 100*time.Millisecond)
}

func (s *RedisStoreSuite) TestClearRemovesEveryKey() {
	tx := domain.NewTransactionID()
	other := domain.NewTransactionID()
	memo := domain.ObjectType{Service: "test", Type: "memo"}

	s.Require().NoError(txcache.Manage[note, uuid.UUID](s.ctx, s.store, tx, noteObject, txcache.EffectUpsert, []note{{ID: uuid.New()}}))
	s.Require().NoError(txcache.Manage[note, uuid.UUID](s.ctx, s.store, tx, memo, txcache.EffectTombstone, []note{{ID: uuid.New()}}))
	s.Require().NoError(txcache.Manage[note, uuid.UUID](s.ctx, s.store, other, noteObject, txcache.EffectUpsert, []note{{ID: uuid.New()}}))

	s.Require().NoError(s.store.Clear(s.ctx, tx))

	keys, err := s.redis.Client.Keys(s.ctx, "txcache:{"+tx.String()+"}*").Result()
	s.Require().NoError(err)
	s.Empty(keys)

	kept, err := txcache.Entities[note, uuid.UUID](s.ctx, s.store, other, noteObject)
	s.Require().NoError(err)
	s.Len(kept, 1, "clear is scoped to one transaction")
}
