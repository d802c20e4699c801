package query

import (
	"context"
	"fmt"

	"faultline/internal/mongo"
)

type operation func(ctx context.Context, sess DataSession, req Request, c mongo.Concerns) (int64, interface{}, error)

var reads = map[string]bool{
	"find":      true,
	"findOne":   true,
	"count":     true,
	"aggregate": true,
}

var writes = map[string]bool{
	"insertOne":  true,
	"insertMany": true,
	"updateOne":  true,
	"updateMany": true,
	"deleteOne":  true,
	"deleteMany": true,
}

var operations = map[string]operation{
	"find":       runFind,
	"findOne":    runFindOne,
	"count":      runCount,
	"aggregate":  runAggregate,
	"insertOne":  runInsertOne,
	"insertMany": runInsertMany,
	"updateOne":  runUpdateOne,
	"updateMany": runUpdateMany,
	"deleteOne":  runDeleteOne,
	"deleteMany": runDeleteMany,
}

// Supported reports whether op names a known operation.
func Supported(op string) bool {
	_, ok := operations[op]
	return ok
}

func runFind(ctx context.Context, sess DataSession, req Request, c mongo.Concerns) (int64, interface{}, error) {
	docs, err := sess.Find(ctx, req.Database, req.Collection, req.Filter, req.Limit, c)
	if err != nil {
		return 0, nil, err
	}
	return int64(len(docs)), docs, nil
}

func runFindOne(ctx context.Context, sess DataSession, req Request, c mongo.Concerns) (int64, interface{}, error) {
	doc, err := sess.FindOne(ctx, req.Database, req.Collection, req.Filter, c)
	if err != nil {
		return 0, nil, err
	}
	if doc == nil {
		return 0, nil, nil
	}
	return 1, doc, nil
}

func runCount(ctx context.Context, sess DataSession, req Request, c mongo.Concerns) (int64, interface{}, error) {
	n, err := sess.Count(ctx, req.Database, req.Collection, req.Filter, c)
	if err != nil {
		return 0, nil, err
	}
	return n, nil, nil
}

func runAggregate(ctx context.Context, sess DataSession, req Request, c mongo.Concerns) (int64, interface{}, error) {
	if len(req.Pipeline) == 0 {
		return 0, nil, fmt.Errorf("pipeline is required for aggregate")
	}
	pipeline := make([]interface{}, len(req.Pipeline))
	for i, stage := range req.Pipeline {
		pipeline[i] = stage
	}
	docs, err := sess.Aggregate(ctx, req.Database, req.Collection, pipeline, c)
	if err != nil {
		return 0, nil, err
	}
	return int64(len(docs)), docs, nil
}

func runInsertOne(ctx context.Context, sess DataSession, req Request, c mongo.Concerns) (int64, interface{}, error) {
	if req.Document == nil {
		return 0, nil, fmt.Errorf("document is required for insertOne")
	}
	id, err := sess.InsertOne(ctx, req.Database, req.Collection, req.Document, c)
	if err != nil {
		return 0, nil, err
	}
	return 1, map[string]interface{}{"inserted_id": id}, nil
}

func runInsertMany(ctx context.Context, sess DataSession, req Request, c mongo.Concerns) (int64, interface{}, error) {
	if len(req.Documents) == 0 {
		return 0, nil, fmt.Errorf("documents are required for insertMany")
	}
	ids, err := sess.InsertMany(ctx, req.Database, req.Collection, req.Documents, c)
	if err != nil {
		return 0, nil, err
	}
	return int64(len(ids)), map[string]interface{}{"inserted_ids": ids}, nil
}

func runUpdateOne(ctx context.Context, sess DataSession, req Request, c mongo.Concerns) (int64, interface{}, error) {
	if req.Update == nil {
		return 0, nil, fmt.Errorf("update is required for updateOne")
	}
	r, err := sess.UpdateOne(ctx, req.Database, req.Collection, req.Filter, req.Update, c)
	if err != nil {
		return 0, nil, err
	}
	return r.Modified, map[string]interface{}{"matched": r.Matched, "modified": r.Modified}, nil
}

func runUpdateMany(ctx context.Context, sess DataSession, req Request, c mongo.Concerns) (int64, interface{}, error) {
	if req.Update == nil {
		return 0, nil, fmt.Errorf("update is required for updateMany")
	}
	r, err := sess.UpdateMany(ctx, req.Database, req.Collection, req.Filter, req.Update, c)
	if err != nil {
		return 0, nil, err
	}
	return r.Modified, map[string]interface{}{"matched": r.Matched, "modified": r.Modified}, nil
}

func runDeleteOne(ctx context.Context, sess DataSession, req Request, c mongo.Concerns) (int64, interface{}, error) {
	n, err := sess.DeleteOne(ctx, req.Database, req.Collection, req.Filter, c)
	if err != nil {
		return 0, nil, err
	}
	return n, nil, nil
}

func runDeleteMany(ctx context.Context, sess DataSession, req Request, c mongo.Concerns) (int64, interface{}, error) {
	n, err := sess.DeleteMany(ctx, req.Database, req.Collection, req.Filter, c)
	if err != nil {
		return 0, nil, err
	}
	return n, nil, nil
}
