// Package tutil holds helpers shared by tests.
package tutil

import (
	"os"
	"strings"
)

// IsIntegrationTest reports whether MC_TEST=integration, which enables tests that
// need external services such as MySQL.
func IsIntegrationTest() bool {
	testType := os.Getenv("MC_TEST")
	return strings.ToLower(testType) == "integration"
}
