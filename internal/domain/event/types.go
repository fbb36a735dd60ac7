// Package event implements the GABP event manager: channel registry,
// per-connection subscription sets, per-channel sequence numbers, and
// concurrent fan-out delivery with cleanup on disconnect.
package event

import "github.com/pardeike/gabp-server/pkg/gabp"

// Subscriber is anything that can receive event messages. The transport
// layer's connection type implements this; tests use a fake.
type Subscriber interface {
	ID() string
	Connected() bool
	Send(msg *gabp.Message) error
}

// Channel describes a registered event channel.
type Channel struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
