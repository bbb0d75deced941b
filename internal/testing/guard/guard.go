// Package guard puts the process in test mode. Import it for side effects
// from any test that builds the application container.
package guard

import "os"

const envName = "PHARMAFLOW_TEST_MODE"

func init() {
	if _, set := os.LookupEnv(envName); !set {
		_ = os.Setenv(envName, "true")
	}
}
