// Package bus abstracts the message transport carrying build requests
// from the gate to the build workers.
package bus

import "context"

// Publisher delivers build request messages to the transport.
type Publisher interface {
	// Publish delivers one message keyed by key. It returns an error
	// only for that message; the publisher stays usable afterwards.
	Publish(ctx context.Context, key string, v any) error
	// Close flushes pending messages and releases the transport.
	Close()
}
