// Package job defines the maintenance Job entity, its lifecycle state
// machine, and the persistence contract.
//
// A Job is the single shared mutable record of the system. It is mutated
// only through lifecycle transitions applied inside a store-level
// conditional commit, so concurrent writers cannot clobber each other: the
// business precondition is evaluated against the current record within the
// store's atomic section, and the losing racer gets a typed error instead
// of a silent overwrite.
//
// The state machine itself is pure. Apply validates and mutates an
// in-memory snapshot and reports effects; it performs no I/O. Committing
// the snapshot, emitting hooks, and fanning out notifications are the
// callers' concern (see the assign, progress, and engine packages).
package job
