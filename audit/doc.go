// Package audit bridges dispatch lifecycle events to an audit trail
// backend. Register the extension with the engine and every job
// transition, creation, and progress update is recorded as a structured
// audit event through a caller-supplied Recorder.
//
// The Recorder interface is defined locally so this package carries no
// dependency on any particular audit store — bridge to yours with a
// RecorderFunc:
//
//	eng, err := engine.Build(d, engine.WithExtension(
//	    audit.New(audit.RecorderFunc(func(ctx context.Context, evt *audit.Event) error {
//	        return trail.Write(ctx, evt.Action, evt.ResourceID, evt.Metadata)
//	    })),
//	))
package audit
