// Package core is the in-process actor runtime the channel host and its
// observers run on.
//
// Actors own a mailbox and process one message at a time. Each is reached
// through a Handle that encodes the node and a local ID, and can optionally
// be registered under a name. Send is fire and forget; Call waits for the
// handler's reply or the context deadline.
package core
