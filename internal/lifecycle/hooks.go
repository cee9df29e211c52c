package lifecycle

import "context"

// Phase orders shutdown hooks. Lower phases finish before higher ones start.
type Phase int

const (
	// PhaseIngress stops accepting work: HTTP listeners, tickers, queue consumers.
	PhaseIngress Phase = iota
	// PhaseDrain waits for in-flight payouts to settle.
	PhaseDrain
	// PhaseConnections closes push channels.
	PhaseConnections
	// PhaseStorage closes databases, caches and clients.
	PhaseStorage
)

// Hook describes a named shutdown hook.
type Hook struct {
	Name  string
	Phase Phase
	Fn    func(ctx context.Context) error
}
