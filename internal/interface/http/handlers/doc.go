// Package handlers contains HTTP health checks and reusable middleware.
//
// # Health Checks
//
// Named checks are executed in parallel with a per-check timeout:
//
//	checker := handlers.NewCompositeHealthChecker("v1")
//	checker.AddCheck("scheduler", handlers.NewRunningCheck(sched.IsRunning))
//	checker.AddCheck("redis", handlers.NewPingCheck(rdb))
//
//	status := checker.Check(ctx)
//
// # Middleware
//
//	handler := handlers.Wrap(apiHandler, handlers.Secure, handlers.NoStore)
package handlers
