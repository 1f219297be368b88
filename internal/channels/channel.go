// Package channels defines the ChannelAdapter boundary between an outside
// messaging surface (a chat app, a terminal, a bridge) and the gateway's
// bus. Concrete bridges beyond the reference cli adapter are out of scope
// here; their channel labels still flow end to end through
// internal/rooms' channel-mapping table.
package channels

import (
	"context"

	"github.com/parleyhq/parley/internal/bus"
)

// Adapter is one channel's bridge into and out of the gateway. Start must
// not block past its own setup: it launches whatever I/O loop the channel
// needs and returns, pushing inbound envelopes onto the given channel
// until ctx is cancelled or Stop is called.
type Adapter interface {
	Name() string
	Start(ctx context.Context, inbound chan<- bus.MessageEnvelope) error
	Send(ctx context.Context, env bus.MessageEnvelope) error
	Stop(ctx context.Context) error
}
