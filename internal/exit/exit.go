package exit

import (
	"fmt"
	"os"

	"faultline/internal/logger"
)

func OnError(err error) {
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

func OnErrorWithMessage(err error, message string) {
	if err != nil {
		logger.Error(fmt.Sprintf("%s: %v", message, err))
		os.Exit(1)
	}
}
