// Package session owns the framed transport to a stack server.
//
// Ownership boundary:
// - dial with connect backoff and the auth handshake
// - version, frame size and cipher negotiation
// - the single frame buffer shared by send and receive
// - frame ids, cookies, checksums and response validation
//
// A Session is strictly half duplex: one command in flight, no pipelining. It is not safe
// for concurrent use. Every transport integrity failure is fatal; the session stores the
// error and returns it from every later call.
package session
