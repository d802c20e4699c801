package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UpdateResult carries the counters of an update operation.
type UpdateResult struct {
	Matched  int64
	Modified int64
}

func (s *Session) collection(db, coll string, c Concerns) (*mongo.Collection, error) {
	dbOpts := options.Database()
	rc, err := c.readConcern()
	if err != nil {
		return nil, err
	}
	if rc != nil {
		dbOpts.SetReadConcern(rc)
	}
	wc, err := c.writeConcern()
	if err != nil {
		return nil, err
	}
	if wc != nil {
		dbOpts.SetWriteConcern(wc)
	}
	rp, err := c.readPref()
	if err != nil {
		return nil, err
	}
	if rp != nil {
		dbOpts.SetReadPreference(rp)
	}
	return s.client.Database(db, dbOpts).Collection(coll), nil
}

// Find returns up to limit documents matching the filter. A limit of zero
// means no limit.
func (s *Session) Find(ctx context.Context, db, coll string, filter map[string]interface{}, limit int64, c Concerns) ([]map[string]interface{}, error) {
	col, err := s.collection(db, coll, c)
	if err != nil {
		return nil, err
	}
	findOpts := options.Find()
	if limit > 0 {
		findOpts.SetLimit(limit)
	}
	cur, err := col.Find(ctx, asFilter(filter), findOpts)
	if err != nil {
		return nil, Classify(err)
	}
	defer cur.Close(ctx)
	var docs []map[string]interface{}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, Classify(err)
	}
	return renderDocs(docs), nil
}

// FindOne returns the first document matching the filter, or nil when no
// document matches.
func (s *Session) FindOne(ctx context.Context, db, coll string, filter map[string]interface{}, c Concerns) (map[string]interface{}, error) {
	col, err := s.collection(db, coll, c)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	err = col.FindOne(ctx, asFilter(filter)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, Classify(err)
	}
	return renderDoc(doc), nil
}

// Count returns the number of documents matching the filter.
func (s *Session) Count(ctx context.Context, db, coll string, filter map[string]interface{}, c Concerns) (int64, error) {
	col, err := s.collection(db, coll, c)
	if err != nil {
		return 0, err
	}
	n, err := col.CountDocuments(ctx, asFilter(filter))
	if err != nil {
		return 0, Classify(err)
	}
	return n, nil
}

// Aggregate runs a pipeline and returns all result documents.
func (s *Session) Aggregate(ctx context.Context, db, coll string, pipeline []interface{}, c Concerns) ([]map[string]interface{}, error) {
	col, err := s.collection(db, coll, c)
	if err != nil {
		return nil, err
	}
	cur, err := col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, Classify(err)
	}
	defer cur.Close(ctx)
	var docs []map[string]interface{}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, Classify(err)
	}
	return renderDocs(docs), nil
}

// InsertOne inserts a document and returns the inserted id rendered as a
// string.
func (s *Session) InsertOne(ctx context.Context, db, coll string, doc map[string]interface{}, c Concerns) (string, error) {
	col, err := s.collection(db, coll, c)
	if err != nil {
		return "", err
	}
	res, err := col.InsertOne(ctx, doc)
	if err != nil {
		return "", Classify(err)
	}
	return renderID(res.InsertedID), nil
}

// InsertMany inserts documents and returns their ids rendered as strings.
func (s *Session) InsertMany(ctx context.Context, db, coll string, docs []map[string]interface{}, c Concerns) ([]string, error) {
	col, err := s.collection(db, coll, c)
	if err != nil {
		return nil, err
	}
	payload := make([]interface{}, len(docs))
	for i, d := range docs {
		payload[i] = d
	}
	res, err := col.InsertMany(ctx, payload)
	if err != nil {
		return nil, Classify(err)
	}
	ids := make([]string, len(res.InsertedIDs))
	for i, id := range res.InsertedIDs {
		ids[i] = renderID(id)
	}
	return ids, nil
}

// UpdateOne updates the first document matching the filter. Updates
// without operator keys are wrapped in $set.
func (s *Session) UpdateOne(ctx context.Context, db, coll string, filter, update map[string]interface{}, c Concerns) (UpdateResult, error) {
	col, err := s.collection(db, coll, c)
	if err != nil {
		return UpdateResult{}, err
	}
	res, err := col.UpdateOne(ctx, asFilter(filter), asUpdate(update))
	if err != nil {
		return UpdateResult{}, Classify(err)
	}
	return UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

// UpdateMany updates all documents matching the filter.
func (s *Session) UpdateMany(ctx context.Context, db, coll string, filter, update map[string]interface{}, c Concerns) (UpdateResult, error) {
	col, err := s.collection(db, coll, c)
	if err != nil {
		return UpdateResult{}, err
	}
	res, err := col.UpdateMany(ctx, asFilter(filter), asUpdate(update))
	if err != nil {
		return UpdateResult{}, Classify(err)
	}
	return UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

// DeleteOne removes the first document matching the filter and returns the
// deleted count.
func (s *Session) DeleteOne(ctx context.Context, db, coll string, filter map[string]interface{}, c Concerns) (int64, error) {
	col, err := s.collection(db, coll, c)
	if err != nil {
		return 0, err
	}
	res, err := col.DeleteOne(ctx, asFilter(filter))
	if err != nil {
		return 0, Classify(err)
	}
	return res.DeletedCount, nil
}

// DeleteMany removes all documents matching the filter and returns the
// deleted count.
func (s *Session) DeleteMany(ctx context.Context, db, coll string, filter map[string]interface{}, c Concerns) (int64, error) {
	col, err := s.collection(db, coll, c)
	if err != nil {
		return 0, err
	}
	res, err := col.DeleteMany(ctx, asFilter(filter))
	if err != nil {
		return 0, Classify(err)
	}
	return res.DeletedCount, nil
}

func asFilter(filter map[string]interface{}) interface{} {
	if filter == nil {
		return bson.D{}
	}
	return filter
}

// asUpdate wraps a plain replacement-style document in $set so update
// payloads from the API work without requiring operator syntax.
func asUpdate(update map[string]interface{}) interface{} {
	for k := range update {
		if strings.HasPrefix(k, "$") {
			return update
		}
	}
	return bson.M{"$set": update}
}

func renderID(id interface{}) string {
	if oid, ok := id.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprintf("%v", id)
}

// renderDoc rewrites driver-specific values into JSON-friendly ones so
// results serialize cleanly for API clients.
func renderDoc(doc map[string]interface{}) map[string]interface{} {
	if doc == nil {
		return nil
	}
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = renderValue(v)
	}
	return out
}

func renderDocs(docs []map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, len(docs))
	for i, d := range docs {
		out[i] = renderDoc(d)
	}
	return out
}

func renderValue(v interface{}) interface{} {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.A:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = renderValue(e)
		}
		return out
	case primitive.M:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = renderValue(e)
		}
		return out
	case primitive.D:
		out := make(map[string]interface{}, len(t))
		for _, e := range t {
			out[e.Key] = renderValue(e.Value)
		}
		return out
	case map[string]interface{}:
		return renderDoc(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = renderValue(e)
		}
		return out
	default:
		return v
	}
}
