// Package websocket is the server side of the push channels.
//
// A central Hub owns every connection. Connections join exactly one group
// (bookings, users_admin, matches or chat:<match id>) when they are served,
// and Publish fans an encoded event out to every member of a group:
//
//	hub := websocket.NewHub(logger)
//	go hub.Run(ctx)
//
//	http.HandleFunc("/ws/bookings/", func(w http.ResponseWriter, r *http.Request) {
//		hub.ServeWS(w, r, "bookings", websocket.ServeOptions{})
//	})
//	hub.Publish("bookings", events.BookingCancelled{BookingID: 4})
//
// Each connection runs a read pump and a write pump. Outbound messages are
// written one per frame; the client parses every frame as a single JSON
// object. A client whose buffer fills up is dropped.
//
// Handshakes refused for application reasons use Reject, which completes the
// upgrade and closes with a 4xxx code so browsers can see why.
package websocket
