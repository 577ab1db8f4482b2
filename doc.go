// Package dispatch is the job lifecycle and real-time dispatch core of the
// Propagentic property-maintenance marketplace. Landlords post maintenance
// jobs, contractors race to claim and execute them, and every party observes
// progress live.
//
// Dispatch is designed as a library, not a service. Import it, configure a
// store backend, and drive the lifecycle through the engine package.
//
// # Quick Start
//
//	d, err := dispatch.New(
//	    dispatch.WithStore(memory.New()),
//	)
//	eng, err := engine.Build(d)
//	j, err := eng.CreateJob(ctx, landlordID, "Leaking kitchen tap",
//	    job.WithTenant(tenantID))
//	j, err = eng.Accept(ctx, j.ID, contractorID)
//
// # Architecture
//
// The shared Job record is the only mutable shared resource. Every mutation
// is a conditional commit: the store applies a change only when the record
// still matches the caller's precondition, so two contractors racing for the
// same job produce exactly one winner. Lifecycle transitions emit hook
// events; the feed broker fans committed snapshots out to subscribers, and
// the bucket categorizer folds them into disjoint pending/ongoing/finished
// views per contractor.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package dispatch
