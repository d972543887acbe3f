package changes

import "errors"

// Domain errors for the changes package.
var (
	// ErrQueueClosed is returned by Queue operations after Close.
	ErrQueueClosed = errors.New("changes: queue closed")

	// ErrSubscriptionClosed ends a subscription's sequence after Close,
	// context cancellation or hub shutdown.
	ErrSubscriptionClosed = errors.New("changes: subscription closed")

	// errHubStopping cancels pushes blocked on a full queue after Hub.Stop.
	errHubStopping = errors.New("changes: hub stopping")

	// ErrUnknownPolicy is returned by ParsePolicy.
	ErrUnknownPolicy = errors.New("changes: unknown overflow policy")

	// ErrNoTopics is returned by NewForwarder without a TopicNamer.
	ErrNoTopics = errors.New("changes: forwarder needs a topic namer")

	// ErrUnknownCodec is returned by ParseCodec.
	ErrUnknownCodec = errors.New("changes: unknown codec")
)
