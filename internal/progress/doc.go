// Package progress delivers live task progress to connected clients.
//
// A Hub groups websocket connections by session. Publish fans an Update out
// to every connection of a session without waiting on any of them: each
// connection owns a writer goroutine with a bounded buffer, and a connection
// that cannot keep up is dropped. Delivery is best effort and nothing is
// replayed, so clients reconcile with the status endpoint on reconnect.
package progress
