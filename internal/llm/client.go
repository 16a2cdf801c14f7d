package llm

import "context"

// Client is the interface every backend vendor implements. The routing
// engine depends only on this interface, never on a vendor type.
type Client interface {
	// Init verifies credentials/configuration and prepares the client.
	// Called once before first use; a non-nil error marks the provider
	// unavailable (a recoverable registry miss, not a crash).
	Init() error

	// Generate sends one completion request and returns the unified
	// reply. Transport, auth, and rate-limit problems surface as
	// errors; the caller does not interpret the kind, only that the
	// call failed.
	Generate(ctx context.Context, req GenerateRequest) (*Reply, error)

	// Name returns the provider identity ("openai", "gemini", …) used
	// for logging and the vision-capability check.
	Name() string
}
