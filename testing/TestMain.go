// Package testing is imported for its side effect by tests that build the
// HTTP stack or load configuration.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

// testEnv holds the variables a test process needs. Values already present in
// the environment win.
var testEnv = [][2]string{
	{"ACCOUNTS_TEST_MODE", "1"},
	{"JWT_SECRET", "test-mode-secret-0123456789abcdef"},
	{"LOG_LEVEL", "error"},
	{"NOTIFY_LOCKOUTS", "false"},
}

var prepare = sync.OnceFunc(func() {
	for _, kv := range testEnv {
		if _, set := os.LookupEnv(kv[0]); !set {
			_ = os.Setenv(kv[0], kv[1])
		}
	}
})

func init() {
	prepare()
}

// TestMain runs m once the test environment is in place.
func TestMain(m *stdtesting.M) {
	prepare()
	os.Exit(m.Run())
}
