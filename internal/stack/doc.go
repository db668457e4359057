// Package stack drives the server's session-scoped execution stack.
//
// Ownership boundary:
// - batched UPDATE_STACK sub-commands with flush-then-retry on a full frame
// - procedure execution and the Call convenience
// - incremental READ_STACK retrieval with offset continuation and a row cursor
// - paginated listings of globals, procedures and their descriptions
//
// A Conn wraps one session.Session and shares its single frame buffer, so it is never safe
// for concurrent use. Its state is derived from the session: buffered updates make it
// StateDirty, a cached read response makes it StateReadCached. Operations that would mix
// the two fail with protocol.ErrIncompleteCommand.
package stack
