package mongo

import (
	"errors"
	"io"

	"faultline/internal/errdefs"

	"go.mongodb.org/mongo-driver/mongo"
)

// ExceededTimeLimit is returned by replSetStepDown when no caught-up
// electable secondary exists within the step-down window.
const codeExceededTimeLimit = 262

// Classify maps driver errors onto the control plane's error kinds.
// Anything without a known mapping passes through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.Code == codeExceededTimeLimit {
			return errdefs.NoElectableSecondary(err, "no electable secondary caught up in time")
		}
		return err
	}

	if mongo.IsNetworkError(err) || errors.Is(err, io.EOF) {
		return errdefs.ConnectionLost(err, "connection to node lost")
	}

	return err
}
