// Package shutdown provides graceful shutdown for quoteflow-server.
//
// This package handles process termination signals:
//
//   - Signal handling (SIGINT, SIGTERM)
//   - A timeout-bounded context passed to cleanup hooks
//   - Cleanup callback registration (run in reverse order of registration)
//   - Shutdown coordination
//
// Usage:
//
//	h := shutdown.NewHandler(30 * time.Second)
//	h.OnShutdown(func(ctx context.Context) error { return srv.Shutdown(ctx) })
//	err := h.Wait() // blocks until SIGINT/SIGTERM, then runs the hooks
package shutdown
