package input

import "context"

// TranscriptScanner watches the chat page and mounts call cards.
type TranscriptScanner interface {
	// Run blocks until ctx is done or the page bindings fail.
	Run(ctx context.Context) error
	// Scan performs one pass over the transcript.
	Scan(ctx context.Context) error
}

type PromptInjector interface {
	Inject(ctx context.Context) (bool, error)
}
