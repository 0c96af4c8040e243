// Package realtime is the client side of the courtside push channels.
//
// A Client owns at most one WebSocket connection to a path-scoped channel
// (bookings, users, matches, chat/<match>) and fans inbound messages out to
// a set of listeners. Connections that end with anything other than a normal
// close (1000) or going-away (1001) are retried on a fixed delay until the
// reconnect budget is spent; the budget state is visible through Status.
//
// Service replaces a process-wide singleton: it is created once, initialised
// with a context and hands out one shared Client per channel.
//
// Usage:
//
//	svc := realtime.NewService(realtime.ServiceConfig{Origin: "https://courts.example"})
//	if err := svc.Init(ctx); err != nil {
//		return err
//	}
//	defer svc.Shutdown()
//
//	matches, _ := svc.Channel(realtime.Matches)
//	matches.Connect(token)
//	unsubscribe := matches.Subscribe(realtime.Func(func(m realtime.Message) {
//		log.Println(m.Kind)
//	}))
//	defer unsubscribe()
//
// Concurrency:
//
// All Client methods are safe for concurrent use. Listeners are called from
// the connection's read goroutine, one message at a time, in arrival order.
package realtime
