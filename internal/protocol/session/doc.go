// Package session owns one negotiated WebSocket connection after handshake.
//
// Ownership boundary:
// - split read/write halves, each serialized by its own lock
// - flavour-bound codec dispatch resolved once per session
// - Connected -> Closing -> Closed state machine
// - transport/TLS policy shared by client and server managers
//
// Send and Recv may run concurrently from different goroutines; two Sends
// (or two Recvs) queue behind each other. There are no built-in timeouts on
// either direction; callers bound waits with a context and Close.
package session
