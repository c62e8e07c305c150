// Package audithook records job and task lifecycle events as an audit
// trail.
//
// Each hook builds an [Event] and hands it to a [Recorder]. Severity is
// fixed per action, except that a failed final attempt is critical.
// Refunds are warnings and are marked failed.
//
//	hooks.Register(audithook.New(audithook.LogRecorder(logger)))
//
// A custom backend is a function:
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, ev *audithook.Event) error {
//	    return trail.Append(ctx, ev.Action, ev.SubjectID, ev.Fields)
//	}), audithook.WithActions(audithook.ActionJobDLQ, audithook.ActionTaskRefunded))
package audithook
