package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
)

// Run executes fn with panic recovery. A positive timeout bounds the
// context fn receives. A panic is logged and returned as an error.
func Run(parentCtx context.Context, logger logrus.FieldLogger, timeout time.Duration, taskName string, fn func(context.Context) error) (err error) {
	if logger == nil {
		logger = logrus.New()
	}
	ctx := parentCtx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parentCtx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"task":  taskName,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Background task panicked")
			err = fmt.Errorf("%s panicked: %v", taskName, r)
		}
	}()

	start := time.Now()
	if err = fn(ctx); err != nil {
		logger.WithError(err).WithField("task", taskName).Error("Background task failed")
		return err
	}
	logger.WithFields(logrus.Fields{
		"task":     taskName,
		"duration": time.Since(start),
	}).Debug("Background task finished")
	return nil
}

// SafeGo runs Run in a new goroutine. Use it instead of a bare go statement
// so a failing task is logged instead of crashing the daemon.
//
// Example:
//
//	async.SafeGo(ctx, logger, 0, "settings watcher", settings.Watch)
func SafeGo(ctx context.Context, logger logrus.FieldLogger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		_ = Run(ctx, logger, timeout, taskName, fn)
	}()
}

// Job adapts fn into a func() suitable for cron schedules. Every run gets
// its own timeout.
func Job(ctx context.Context, logger logrus.FieldLogger, timeout time.Duration, taskName string, fn func(context.Context) error) func() {
	return func() {
		_ = Run(ctx, logger, timeout, taskName, fn)
	}
}
