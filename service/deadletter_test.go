package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/anchel/voucher-seckill/mongodb"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type memDeadLetterStore struct {
	mu   sync.Mutex
	docs []*mongodb.EntityDeadLetter
	err  error
}

func (m *memDeadLetterStore) InsertOne(ctx context.Context, doc *mongodb.EntityDeadLetter) (primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return primitive.NilObjectID, m.err
	}
	m.docs = append(m.docs, doc)
	return primitive.NewObjectID(), nil
}

func TestDeadLetterSink_StoresAndAnnounces(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	received := make(chan *mongodb.EntityDeadLetter, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		StartSubscribeDeadLetter(ctx, rdb, func(dl *mongodb.EntityDeadLetter) { received <- dl })
	}()
	defer func() {
		cancel()
		<-done
	}()
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(DeadLetterChannel)[DeadLetterChannel] == 1
	}, time.Second, 5*time.Millisecond)

	store := &memDeadLetterStore{}
	sink := &MongoDeadLetterSink{store: store, rdb: rdb}
	require.NoError(t, sink.Record(context.Background(), &mongodb.EntityDeadLetter{OrderID: 11, UserID: 2, VoucherID: 3, Reason: "durable stock exhausted"}))
	assert.Len(t, store.docs, 1)

	select {
	case dl := <-received:
		assert.Equal(t, int64(11), dl.OrderID)
		assert.Equal(t, "durable stock exhausted", dl.Reason)
	case <-time.After(time.Second):
		t.Fatal("dead letter was not announced")
	}
}

func TestDeadLetterSink_StoreFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := &memDeadLetterStore{err: errors.New("mongo down")}
	sink := &MongoDeadLetterSink{store: store, rdb: rdb}

	err := sink.Record(context.Background(), &mongodb.EntityDeadLetter{OrderID: 12})
	assert.ErrorContains(t, err, "mongo down")
}
