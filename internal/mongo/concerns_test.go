package mongo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

func TestReadPref(t *testing.T) {
	tests := []struct {
		name string
		mode readpref.Mode
	}{
		{"primary", readpref.PrimaryMode},
		{"primaryPreferred", readpref.PrimaryPreferredMode},
		{"secondary", readpref.SecondaryMode},
		{"secondaryPreferred", readpref.SecondaryPreferredMode},
		{"nearest", readpref.NearestMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rp, err := Concerns{ReadPreference: tt.name}.readPref()
			require.NoError(t, err)
			require.NotNil(t, rp)
			assert.Equal(t, tt.mode, rp.Mode())
		})
	}

	rp, err := Concerns{}.readPref()
	require.NoError(t, err)
	assert.Nil(t, rp)

	_, err = Concerns{ReadPreference: "fastest"}.readPref()
	assert.Error(t, err)
}

func TestReadConcern(t *testing.T) {
	for _, level := range []string{"local", "majority", "available", "linearizable", "snapshot"} {
		rc, err := Concerns{ReadConcern: level}.readConcern()
		require.NoError(t, err)
		require.NotNil(t, rc)
		assert.Equal(t, level, rc.Level)
	}

	rc, err := Concerns{}.readConcern()
	require.NoError(t, err)
	assert.Nil(t, rc)

	_, err = Concerns{ReadConcern: "eventual"}.readConcern()
	assert.Error(t, err)
}

func TestWriteConcern(t *testing.T) {
	wc, err := Concerns{}.writeConcern()
	require.NoError(t, err)
	assert.Nil(t, wc)

	wc, err = Concerns{WriteConcern: "majority"}.writeConcern()
	require.NoError(t, err)
	require.NotNil(t, wc)
	assert.Equal(t, "majority", wc.W)

	// JSON numbers decode as float64.
	wc, err = Concerns{WriteConcern: float64(2)}.writeConcern()
	require.NoError(t, err)
	assert.Equal(t, 2, wc.W)

	wc, err = Concerns{WriteConcern: 3}.writeConcern()
	require.NoError(t, err)
	assert.Equal(t, 3, wc.W)

	journal := true
	wc, err = Concerns{Journal: &journal}.writeConcern()
	require.NoError(t, err)
	require.NotNil(t, wc)
	assert.Equal(t, 1, wc.W)
	assert.Equal(t, &journal, wc.Journal)

	_, err = Concerns{WriteConcern: "all"}.writeConcern()
	assert.Error(t, err)

	_, err = Concerns{WriteConcern: -1}.writeConcern()
	assert.Error(t, err)

	_, err = Concerns{WriteConcern: true}.writeConcern()
	assert.Error(t, err)
}
