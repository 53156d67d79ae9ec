package mongodb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type EntityBase struct {
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

type ModelEntier interface {
	GetCreatedAt() time.Time
	SetCreatedAt(t time.Time)
}

// ModelBase gives typed access to one collection. PT is the pointer type of T
// so documents can be decoded into freshly allocated values.
type ModelBase[T any, PT interface {
	*T
	ModelEntier
}] struct {
	collectionName string
}

func NewModelBase[T any, PT interface {
	*T
	ModelEntier
}](collectionName string) *ModelBase[T, PT] {
	return &ModelBase[T, PT]{collectionName: collectionName}
}

func (m *ModelBase[T, PT]) collection() (*mongo.Collection, error) {
	return mongoClient.GetCollection(m.collectionName)
}

func (m *ModelBase[T, PT]) InsertOne(ctx context.Context, doc PT) (primitive.ObjectID, error) {
	coll, err := m.collection()
	if err != nil {
		return primitive.NilObjectID, err
	}
	if doc.GetCreatedAt().IsZero() {
		doc.SetCreatedAt(time.Now())
	}
	res, err := coll.InsertOne(ctx, doc)
	if err != nil {
		return primitive.NilObjectID, err
	}
	id, _ := res.InsertedID.(primitive.ObjectID)
	return id, nil
}

// FindOne returns nil, nil when nothing matches.
func (m *ModelBase[T, PT]) FindOne(ctx context.Context, filter any) (PT, error) {
	coll, err := m.collection()
	if err != nil {
		return nil, err
	}
	var doc T
	if err := coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

func (m *ModelBase[T, PT]) FindByID(ctx context.Context, id string) (PT, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid id %q", id)
	}
	return m.FindOne(ctx, bson.D{{Key: "_id", Value: oid}})
}

func (m *ModelBase[T, PT]) Count(ctx context.Context, filter any) (int64, error) {
	coll, err := m.collection()
	if err != nil {
		return 0, err
	}
	return coll.CountDocuments(ctx, filter)
}
