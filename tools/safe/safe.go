package safe

import (
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/logger"
)

// Go starts a goroutine that recovers from panic so a single background
// task cannot take the process down.
func Go(name string, f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] %s panic recovered: %v", name, r)
			}
		}()
		f()
	}()
}

// Run invokes f inline, converting a panic into the returned recover value.
// Used by the event dispatcher so one handler fault never tears the
// connection down.
func Run(f func() error) (err error, recovered any) {
	defer func() {
		if r := recover(); r != nil {
			recovered = r
		}
	}()
	err = f()
	return
}
