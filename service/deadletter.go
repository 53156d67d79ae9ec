package service

import (
	"context"
	"encoding/json"

	"github.com/anchel/voucher-seckill/lib/redisop"
	"github.com/anchel/voucher-seckill/mongodb"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

const DeadLetterChannel = "seckill:deadletter"

// DeadLetterSink receives orders that were admitted but could not be
// persisted, for manual reconciliation.
type DeadLetterSink interface {
	Record(ctx context.Context, dl *mongodb.EntityDeadLetter) error
}

type deadLetterStore interface {
	InsertOne(ctx context.Context, doc *mongodb.EntityDeadLetter) (primitive.ObjectID, error)
}

// MongoDeadLetterSink stores each record in the seckill_deadletter collection
// and announces it on DeadLetterChannel.
type MongoDeadLetterSink struct {
	store deadLetterStore
	rdb   redis.Cmdable
}

// NewDeadLetterSink must be called after mongodb.InitMongoDB.
func NewDeadLetterSink(rdb redis.Cmdable) *MongoDeadLetterSink {
	return &MongoDeadLetterSink{store: mongodb.ModelDeadLetter, rdb: rdb}
}

func (s *MongoDeadLetterSink) Record(ctx context.Context, dl *mongodb.EntityDeadLetter) error {
	var storeErr error
	if _, err := s.store.InsertOne(ctx, dl); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			log.Debug("MongoDeadLetterSink already recorded", "orderID", dl.OrderID)
		} else {
			storeErr = errors.Wrap(err, "insert dead letter")
		}
	}

	payload, err := json.Marshal(dl)
	if err != nil {
		return errors.CombineErrors(storeErr, err)
	}
	if _, err := redisop.Publish(ctx, s.rdb, DeadLetterChannel, payload); err != nil {
		return errors.CombineErrors(storeErr, errors.Wrap(err, "publish dead letter"))
	}
	return storeErr
}
