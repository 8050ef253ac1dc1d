// Package hostenv abstracts the host's network-availability and visibility
// signals so that the connectivity monitor and the live channel can be
// driven deterministically in tests.
package hostenv

// Kind identifies a host signal transition.
type Kind string

const (
	Online  Kind = "online"
	Offline Kind = "offline"
	Visible Kind = "visible"
	Hidden  Kind = "hidden"
)

// Event is an edge-triggered host signal.
type Event struct {
	Kind Kind
}

// Probe reports the host's current connectivity and visibility state and
// streams transitions between them.
type Probe interface {
	// Online reports whether the host currently has network connectivity.
	Online() bool
	// Visible reports whether the consumer surface is currently visible.
	// Headless deployments are always visible.
	Visible() bool
	// Events delivers state transitions. The channel is closed when the
	// probe is stopped.
	Events() <-chan Event
}
