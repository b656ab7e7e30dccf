package core

import (
	"context"

	"pkt.systems/scrollback/schema"
)

// SinkCallbacks is what a sink calls back into while it drives one job.
// DataRequested is never called concurrently for the same job; an empty chunk
// means the history is exhausted. Result is called exactly once.
type SinkCallbacks interface {
	DataRequested(ctx context.Context, jobID schema.JobID) ([]byte, error)
	Result(jobID schema.JobID, err error)
}

// Sink is a sequential-write destination for one export job.
// Start returns immediately; the transfer runs on the sink's own schedule
// until ctx is canceled or the data is exhausted.
type Sink interface {
	Start(ctx context.Context, jobID schema.JobID, cb SinkCallbacks)
}

// SinkOpener opens a sink for a destination.
type SinkOpener interface {
	Open(ctx context.Context, dest schema.Destination) (Sink, error)
}

// DestinationChooser picks the export destination for a session. ok=false
// means the user declined and the session is skipped.
type DestinationChooser interface {
	ChooseDestination(ctx context.Context, session schema.SessionInfo) (dest schema.Destination, ok bool, err error)
}

// DestinationChooserFunc adapts a function to DestinationChooser.
type DestinationChooserFunc func(ctx context.Context, session schema.SessionInfo) (schema.Destination, bool, error)

// ChooseDestination calls f.
func (f DestinationChooserFunc) ChooseDestination(ctx context.Context, session schema.SessionInfo) (schema.Destination, bool, error) {
	return f(ctx, session)
}

// StaticDestination returns a chooser that always picks dest. An empty URL
// declines.
func StaticDestination(dest schema.Destination) DestinationChooser {
	return DestinationChooserFunc(func(context.Context, schema.SessionInfo) (schema.Destination, bool, error) {
		if dest.URL == "" {
			return schema.Destination{}, false, nil
		}
		return dest, true, nil
	})
}
