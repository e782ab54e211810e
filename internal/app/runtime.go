package app

import (
	"os"
	"strconv"
)

// TestModeEnv is set by the shared test package so binaries and helpers can
// skip starting servers, pools and workers.
const TestModeEnv = "ACCOUNTS_TEST_MODE"

// InTestMode reports whether ACCOUNTS_TEST_MODE is enabled. The flag is read on
// every call; tests toggle it with t.Setenv.
func InTestMode() bool {
	return testModeEnabled(os.Getenv(TestModeEnv))
}

func testModeEnabled(value string) bool {
	enabled, err := strconv.ParseBool(value)
	return err == nil && enabled
}
