package mongo

import (
	"fmt"

	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// Concerns carries the per-query consistency knobs. Zero values leave the
// driver defaults in place.
type Concerns struct {
	// ReadPreference is one of primary, primaryPreferred, secondary,
	// secondaryPreferred or nearest.
	ReadPreference string
	// ReadConcern is one of local, majority, available, linearizable or
	// snapshot.
	ReadConcern string
	// WriteConcern is a number of nodes or the string "majority". JSON
	// decoding hands numbers over as float64, so numeric types are
	// normalized here.
	WriteConcern interface{}
	// Journal requests on-disk journal acknowledgement when set.
	Journal *bool
}

func (c Concerns) readPref() (*readpref.ReadPref, error) {
	switch c.ReadPreference {
	case "":
		return nil, nil
	case "primary":
		return readpref.Primary(), nil
	case "primaryPreferred":
		return readpref.PrimaryPreferred(), nil
	case "secondary":
		return readpref.Secondary(), nil
	case "secondaryPreferred":
		return readpref.SecondaryPreferred(), nil
	case "nearest":
		return readpref.Nearest(), nil
	default:
		return nil, fmt.Errorf("unknown read preference %q", c.ReadPreference)
	}
}

func (c Concerns) readConcern() (*readconcern.ReadConcern, error) {
	switch c.ReadConcern {
	case "":
		return nil, nil
	case "local":
		return readconcern.Local(), nil
	case "majority":
		return readconcern.Majority(), nil
	case "available":
		return readconcern.Available(), nil
	case "linearizable":
		return readconcern.Linearizable(), nil
	case "snapshot":
		return readconcern.Snapshot(), nil
	default:
		return nil, fmt.Errorf("unknown read concern %q", c.ReadConcern)
	}
}

func (c Concerns) writeConcern() (*writeconcern.WriteConcern, error) {
	if c.WriteConcern == nil && c.Journal == nil {
		return nil, nil
	}
	wc := &writeconcern.WriteConcern{Journal: c.Journal}
	switch w := c.WriteConcern.(type) {
	case nil:
		wc.W = 1
	case string:
		if w != "majority" {
			return nil, fmt.Errorf("unknown write concern %q", w)
		}
		wc.W = "majority"
	case int:
		if w < 0 {
			return nil, fmt.Errorf("write concern must not be negative, got %d", w)
		}
		wc.W = w
	case int64:
		if w < 0 {
			return nil, fmt.Errorf("write concern must not be negative, got %d", w)
		}
		wc.W = int(w)
	case float64:
		if w < 0 {
			return nil, fmt.Errorf("write concern must not be negative, got %v", w)
		}
		wc.W = int(w)
	default:
		return nil, fmt.Errorf("unsupported write concern type %T", c.WriteConcern)
	}
	return wc, nil
}
