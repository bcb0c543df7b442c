// Package bus provides the publish/subscribe abstraction connecting the
// fullsend services.
//
// Delivery is best-effort and ephemeral: publish never blocks on subscriber
// presence, subscribers only see messages published after they subscribed,
// and a message published with no subscriber listening is lost. Several
// flows rely on services being up before traffic arrives.
package bus

import "context"

// Channel names. These are deployment constants, not a wire contract; any
// consistent renaming is fine as long as every service agrees.
const (
	ChannelInbound           = "fullsend:discord_raw"
	ChannelClassification    = "fullsend:classification"
	ChannelResponses         = "fullsend:from_orchestrator"
	ChannelToCoordinator     = "fullsend:to_orchestrator"
	ChannelDesignRequests    = "fullsend:to_fullsend"
	ChannelBuildRequests     = "fullsend:builder_tasks"
	ChannelBuildResults      = "fullsend:builder_results"
	ChannelRunTriggers       = "fullsend:run_experiment"
	ChannelMetrics           = "fullsend:metrics"
	ChannelExperimentResults = "fullsend:experiment_results"
)

// Message is a single payload received on a channel. Payloads are opaque
// structured records; the bus does not validate shape.
type Message struct {
	Channel string
	Data    []byte
}

// Bus is the pub/sub abstraction. Implementations must be safe for
// concurrent use.
type Bus interface {
	// Publish sends a payload to a channel, fire-and-forget. The payload is
	// JSON-marshalled; []byte and string payloads are sent verbatim.
	Publish(ctx context.Context, channel string, payload any) error

	// Subscribe returns a channel of messages for the named bus channels
	// plus a cancel function. Only messages published after subscription
	// are delivered.
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, func(), error)

	// Close releases the underlying connection.
	Close() error
}
