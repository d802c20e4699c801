package mongo

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"faultline/internal/errdefs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestClassifyStepDownRejection(t *testing.T) {
	err := Classify(mongo.CommandError{Code: codeExceededTimeLimit, Message: "No electable secondaries caught up"})
	require.Error(t, err)
	assert.True(t, errdefs.IsNoElectableSecondary(err))
}

func TestClassifyOtherCommandErrorsPassThrough(t *testing.T) {
	orig := mongo.CommandError{Code: 11000, Message: "duplicate key"}
	err := Classify(orig)
	assert.False(t, errdefs.IsNoElectableSecondary(err))
	assert.False(t, errdefs.IsConnectionLost(err))

	var cmdErr mongo.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, int32(11000), cmdErr.Code)
}

func TestClassifyNetworkErrors(t *testing.T) {
	err := Classify(fmt.Errorf("socket closed: %w", io.EOF))
	require.Error(t, err)
	assert.True(t, errdefs.IsConnectionLost(err))
}

func TestClassifyNil(t *testing.T) {
	assert.NoError(t, Classify(nil))
}

func TestClassifyUnknownPassThrough(t *testing.T) {
	orig := errors.New("boom")
	assert.Equal(t, orig, Classify(orig))
}
