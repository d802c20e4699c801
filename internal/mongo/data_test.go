package mongo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestAsUpdateWrapsPlainDocuments(t *testing.T) {
	plain := map[string]interface{}{"status": "shipped"}
	wrapped := asUpdate(plain)
	assert.Equal(t, bson.M{"$set": plain}, wrapped)

	operator := map[string]interface{}{"$inc": map[string]interface{}{"count": 1}}
	assert.Equal(t, operator, asUpdate(operator).(map[string]interface{}))
}

func TestAsFilterNilBecomesEmpty(t *testing.T) {
	assert.Equal(t, bson.D{}, asFilter(nil))

	f := map[string]interface{}{"x": 1}
	assert.Equal(t, f, asFilter(f))
}

func TestRenderID(t *testing.T) {
	oid := primitive.NewObjectID()
	assert.Equal(t, oid.Hex(), renderID(oid))
	assert.Equal(t, "41", renderID(41))
	assert.Equal(t, "order-7", renderID("order-7"))
}

func TestRenderDocRewritesDriverTypes(t *testing.T) {
	oid := primitive.NewObjectID()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	doc := map[string]interface{}{
		"_id":     oid,
		"created": primitive.NewDateTimeFromTime(ts),
		"tags":    primitive.A{"a", primitive.M{"n": int32(1)}},
		"nested":  primitive.D{{Key: "inner", Value: oid}},
		"plain":   "value",
	}

	out := renderDoc(doc)
	assert.Equal(t, oid.Hex(), out["_id"])
	assert.Equal(t, ts, out["created"])
	assert.Equal(t, []interface{}{"a", map[string]interface{}{"n": int32(1)}}, out["tags"])
	assert.Equal(t, map[string]interface{}{"inner": oid.Hex()}, out["nested"])
	assert.Equal(t, "value", out["plain"])
}
