// Package history keeps the short-lived conversation memory used to give the
// completion API some context.
//
// # Layout
//
// History is keyed by conversation identifier (a Matrix room ID) and, inside a
// conversation, by thread identifier. The top level of a room uses the empty
// thread identifier. Each (conversation, thread) pair owns a fixed-capacity ring
// of user/assistant exchanges:
//
//	store := history.NewStore(3)
//	store.Append("!room:example.org", user, assistant)
//	turns := store.Turns("!room:example.org", "")
//
// # Retention
//
// Only the count bound is enforced here: appending to a full ring evicts the
// oldest exchange. Turns are never removed because of their age. Callers filter
// stale turns when reading (see prompt.Assembler), so an expired exchange still
// occupies a slot until newer exchanges push it out.
//
// Nothing is persisted; history is lost when the process exits.
package history
