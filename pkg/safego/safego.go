package safego

import (
	"go.uber.org/zap"
)

// GoDone launches a goroutine with panic recovery and closes the returned
// channel when it finishes, panic or not. Tournament and review fan-out
// await their workers through this so a panicking worker still settles
// instead of leaking the wait.
//
// Usage:
//
//	done := safego.GoDone(logger, "competitor-2", func() {
//	    // work that might panic
//	})
//	<-done
func GoDone(logger *zap.Logger, name string, fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Goroutine panicked",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
	return done
}
