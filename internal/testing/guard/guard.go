package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("PROJECTHUB_TEST_MODE") == "" {
			_ = os.Setenv("PROJECTHUB_TEST_MODE", "1")
		}
	})
}
