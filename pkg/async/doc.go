// Package async runs the daemon's background tasks with panic recovery,
// timeouts and logrus logging.
//
// # Key Functions
//
// SafeGo starts a long running task such as the og.settings watcher:
//
//	async.SafeGo(ctx, logger, 0, "settings watcher", settings.Watch)
//
// Job wraps a task for a cron schedule, each run bounded by its own timeout:
//
//	scheduler.AddFunc("@hourly", async.Job(ctx, logger, 5*time.Minute, "orphan purge", purge))
//
// Run is the synchronous form both are built on. It returns the task's
// error, or an error describing a recovered panic.
package async
