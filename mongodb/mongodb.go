package mongodb

import (
	"context"
	"slices"
	"time"

	"github.com/anchel/voucher-seckill/config"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoClient struct {
	client *mongo.Client
	db     *mongo.Database
}

var mongoClient *MongoClient

type ModelInitFunc func(client *MongoClient) error

var modelInitFuncs []ModelInitFunc

// AddModelInitFunc registers f to run once InitMongoDB has connected.
func AddModelInitFunc(f ModelInitFunc) {
	modelInitFuncs = append(modelInitFuncs, f)
}

func InitMongoDB(ctx context.Context, conf config.Mongo) (*MongoClient, error) {
	opts := options.Client().ApplyURI(conf.URI).SetServerSelectionTimeout(5 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "connect mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "ping mongodb")
	}

	mongoClient = &MongoClient{client: client, db: client.Database(conf.DB)}
	for _, f := range modelInitFuncs {
		if err := f(mongoClient); err != nil {
			return nil, err
		}
	}
	log.Info("init mongodb successful", "db", conf.DB)
	return mongoClient, nil
}

func (c *MongoClient) GetCollection(name string) (*mongo.Collection, error) {
	if c == nil || c.db == nil {
		return nil, errors.New("mongodb not initialized")
	}
	return c.db.Collection(name), nil
}

func (c *MongoClient) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

type IndexSpec struct {
	Name   string `bson:"name"`
	Key    bson.D `bson:"key"`
	Unique bool   `bson:"unique"`
}

func GetCollectionIndexs(ctx context.Context, collection *mongo.Collection) ([]IndexSpec, error) {
	cursor, err := collection.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	var indexes []IndexSpec
	if err := cursor.All(ctx, &indexes); err != nil {
		return nil, err
	}
	return indexes, nil
}

// CheckCollectionCompoundIndexExists reports whether an index on exactly
// fields exists. With anyOrder the field order is ignored.
func CheckCollectionCompoundIndexExists(indexes []IndexSpec, fields []string, anyOrder bool) bool {
	want := slices.Clone(fields)
	if anyOrder {
		slices.Sort(want)
	}
	for _, idx := range indexes {
		got := make([]string, 0, len(idx.Key))
		for _, e := range idx.Key {
			got = append(got, e.Key)
		}
		if anyOrder {
			slices.Sort(got)
		}
		if slices.Equal(got, want) {
			return true
		}
	}
	return false
}
