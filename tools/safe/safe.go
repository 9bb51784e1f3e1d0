package safe

import (
	"go.uber.org/zap"

	"PRelay/logger"
	"PRelay/tools/errs"
)

// Go starts f on a new goroutine. A panic inside f is logged with its stack
// instead of taking the process down.
func Go(name string, f func()) {
	go Run(name, f)
}

// Run calls f and recovers a panic, returning it as an error.
func Run(name string, f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
			logger.Log.Error("goroutine panic recovered",
				zap.String("goroutine", name), zap.Error(err), zap.Stack("stack"))
		}
	}()
	f()
	return nil
}
