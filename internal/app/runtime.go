package app

import (
	"os"
	"strconv"
	"sync"
)

// TestModeEnv names the variable that keeps Build away from external services.
const TestModeEnv = "PHARMAFLOW_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
})

// InTestMode reports whether TestModeEnv was set when first consulted.
func InTestMode() bool {
	return testMode()
}
