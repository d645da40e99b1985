package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/recmig/recmig/pkg/models"
)

// MongoEnvironment backs a record environment with a MongoDB database,
// one collection per entity. The entity's conventional primary key field
// doubles as the document _id.
type MongoEnvironment struct {
	client *mongo.Client
	dbName string
}

func NewMongoEnvironment(client *mongo.Client, dbName string) *MongoEnvironment {
	return &MongoEnvironment{client: client, dbName: dbName}
}

func (m *MongoEnvironment) collection(entity string) *mongo.Collection {
	return m.client.Database(m.dbName).Collection(entity)
}

// Fetch reads records of one entity, applying the spec's projection and
// limit. Filter strings are parsed as extended JSON match documents.
func (m *MongoEnvironment) Fetch(ctx context.Context, spec models.FetchSpec) ([]Record, error) {
	filter := bson.M{}
	if spec.Filter != "" {
		if err := bson.UnmarshalExtJSON([]byte(spec.Filter), true, &filter); err != nil {
			return nil, &models.ApiError{Kind: models.ApiFatal, Op: "fetch " + spec.Entity,
				Err: fmt.Errorf("invalid filter: %w", err)}
		}
	}

	findOpts := options.Find()
	if len(spec.Fields) > 0 {
		projection := bson.M{}
		pk := models.PrimaryKeyField(spec.Entity)
		projection[pk] = 1
		for _, f := range spec.Fields {
			projection[f] = 1
		}
		for _, f := range spec.Expand {
			projection[f] = 1
		}
		findOpts.SetProjection(projection)
	}
	if spec.Top > 0 {
		findOpts.SetLimit(int64(spec.Top))
	}
	// Sort by primary key for stable fetch order.
	findOpts.SetSort(bson.M{models.PrimaryKeyField(spec.Entity): 1})

	cursor, err := m.collection(spec.Entity).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, classify("fetch "+spec.Entity, err)
	}
	defer cursor.Close(ctx)

	var results []Record
	for cursor.Next(ctx) {
		var doc Record
		if err := cursor.Decode(&doc); err != nil {
			return nil, classify("fetch "+spec.Entity, err)
		}
		delete(doc, "_id")
		results = append(results, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, classify("fetch "+spec.Entity, err)
	}
	return results, nil
}

// Execute applies one mutating operation. Skip and Error operations are
// rejected; callers filter those out before execution.
func (m *MongoEnvironment) Execute(ctx context.Context, op models.Operation) error {
	if !op.Mutates() {
		return &models.ApiError{Kind: models.ApiFatal, Op: string(op.Kind),
			Err: fmt.Errorf("operation kind %s is not executable", op.Kind)}
	}
	if err := op.Validate(); err != nil {
		return &models.ApiError{Kind: models.ApiFatal, Op: string(op.Kind), Err: err}
	}

	coll := m.collection(op.Entity)
	pk := models.PrimaryKeyField(op.Entity)

	switch op.Kind {
	case models.OpCreate:
		doc := bson.M{}
		for k, v := range op.Fields {
			doc[k] = v
		}
		id := op.ID
		if id == "" {
			id = uuid.NewString()
		}
		doc[pk] = id
		doc["_id"] = id
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			return classify("create "+op.Entity, err)
		}
		return nil

	case models.OpUpdate:
		res, err := coll.UpdateByID(ctx, op.ID, bson.M{"$set": bson.M(op.Fields)})
		if err != nil {
			return classify("update "+op.Entity, err)
		}
		if res.MatchedCount == 0 {
			return &models.ApiError{Kind: models.ApiNotFound, Op: "update " + op.Entity,
				Err: fmt.Errorf("record %s not found", op.ID)}
		}
		return nil

	case models.OpDelete:
		res, err := coll.DeleteOne(ctx, bson.M{"_id": op.ID})
		if err != nil {
			return classify("delete "+op.Entity, err)
		}
		if res.DeletedCount == 0 {
			return &models.ApiError{Kind: models.ApiNotFound, Op: "delete " + op.Entity,
				Err: fmt.Errorf("record %s not found", op.ID)}
		}
		return nil

	case models.OpDeactivate:
		res, err := coll.UpdateByID(ctx, op.ID, bson.M{"$set": bson.M{"statecode": 1}})
		if err != nil {
			return classify("deactivate "+op.Entity, err)
		}
		if res.MatchedCount == 0 {
			return &models.ApiError{Kind: models.ApiNotFound, Op: "deactivate " + op.Entity,
				Err: fmt.Errorf("record %s not found", op.ID)}
		}
		return nil
	}
	return &models.ApiError{Kind: models.ApiFatal, Op: string(op.Kind),
		Err: fmt.Errorf("unknown operation kind")}
}

func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	kind := models.ApiFatal
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		kind = models.ApiTransient
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Code {
		case 13: // Unauthorized
			kind = models.ApiPermission
		case 18: // AuthenticationFailed
			kind = models.ApiAuthentication
		}
	}
	return &models.ApiError{Kind: kind, Op: op, Err: err}
}
