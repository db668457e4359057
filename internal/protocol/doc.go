// Package protocol owns the wire contract of the stack server protocol.
//
// Ownership boundary:
// - error kinds and status codes shared with the server
// - frame, cipher, command and sub-command constants
//
// Frame encoding lives in frame, payload cursors in wire, ciphers in cipher and the
// connection state machine in session.
package protocol
