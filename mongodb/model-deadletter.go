package mongodb

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EntityDeadLetter records an admitted order that could not be persisted.
type EntityDeadLetter struct {
	EntityBase `bson:",inline"`

	ID primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`

	OrderID   int64  `json:"order_id" bson:"order_id"`
	UserID    int64  `json:"user_id" bson:"user_id"`
	VoucherID int64  `json:"voucher_id" bson:"voucher_id"`
	Reason    string `json:"reason" bson:"reason"`
	Attempts  int    `json:"attempts" bson:"attempts"`

	EnqueuedAt time.Time `json:"enqueued_at" bson:"enqueued_at"`
}

func (e *EntityDeadLetter) GetCreatedAt() time.Time {
	return e.CreatedAt
}

func (e *EntityDeadLetter) SetCreatedAt(t time.Time) {
	e.CreatedAt = t
}

const DeadLetterCollection = "seckill_deadletter"

var ModelDeadLetter *ModelBase[EntityDeadLetter, *EntityDeadLetter]

func init() {
	AddModelInitFunc(func(client *MongoClient) error {
		log.Info("init mongodb model " + DeadLetterCollection)

		ModelDeadLetter = NewModelBase[EntityDeadLetter, *EntityDeadLetter](DeadLetterCollection)

		collection, err := client.GetCollection(DeadLetterCollection)
		if err != nil {
			log.Error("Error mongoClient.GetCollection", "err", err)
			return err
		}
		indexes, err := GetCollectionIndexs(context.Background(), collection)
		if err != nil {
			log.Error("Error GetCollectionIndexs", "err", err)
			return err
		}
		// one record per order, so a replayed abandon does not duplicate
		if !CheckCollectionCompoundIndexExists(indexes, []string{"order_id"}, false) {
			_, err = collection.Indexes().CreateOne(context.Background(), mongo.IndexModel{
				Keys:    bson.D{{Key: "order_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			})
			if err != nil {
				log.Error("Error Create Index", "err", err)
				return err
			}
		}
		return nil
	})
}
