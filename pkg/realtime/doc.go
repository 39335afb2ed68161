// Package realtime is the client side of the /ws push channel.
//
// Client keeps one websocket open to the engine: it reconnects with the
// 2s × 1.5 ≤ 30s backoff after any drop and sends {"type":"ping"} every 25s
// while open. Reconciler merges the pushed events into local ringing and
// reminder sets so that duplicate or late events never restart playback.
//
// Both run on a timeutil.Clock, so a FakeClock drives them in tests.
//
// Usage:
//
//	rec := realtime.NewReconciler(realtime.ReconcilerConfig{Effects: fx})
//	client := realtime.NewClient(realtime.ClientConfig{
//		URL:     "ws://localhost:8000/ws",
//		OnOpen:  func() { rec.Resync(fetchAlarms()) },
//		OnEvent: func(e realtime.Event) { rec.Apply(e) },
//	})
//	client.Start(ctx)
//	defer client.Disconnect()
package realtime
