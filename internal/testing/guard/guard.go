// Package guard flips the runtime into test mode when imported. Test files
// blank-import it so binaries under test never touch real infrastructure.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("TERRALOT_TEST_MODE") == "" {
			_ = os.Setenv("TERRALOT_TEST_MODE", "1")
		}
	})
}
