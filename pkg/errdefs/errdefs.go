// Package errdefs defines the error values returned by the kbus broker,
// binding table, wire codec and bridge.
//
// Every failure is returned synchronously to the caller of the failing
// operation. Call sites wrap these values with context using fmt.Errorf and
// %w, so callers should compare with errors.Is:
//
//	if _, err := b.Send(ctx, ep, msg); errors.Is(err, errdefs.ErrAddressNotAvailable) {
//		// nobody is bound as replier for msg.Name
//	}
package errdefs

import "errors"

var (
	// ErrInvalidName is returned for a malformed message name or binding
	// pattern, or for a send whose name contains a wildcard.
	ErrInvalidName = errors.New("invalid message name")

	// ErrInvalidFlags is returned when both ALL_OR_WAIT and ALL_OR_FAIL are set.
	ErrInvalidFlags = errors.New("invalid message flags")

	// ErrAddressInUse is returned when binding a replier to a pattern that
	// already has a replier.
	ErrAddressInUse = errors.New("replier already bound")

	// ErrNoSuchBinding is returned by unbind when no matching binding exists.
	ErrNoSuchBinding = errors.New("no such binding")

	// ErrAmbiguousUnbind is returned by unbind when the request cannot
	// identify a single binding.
	ErrAmbiguousUnbind = errors.New("ambiguous unbind")

	// ErrAddressNotAvailable is returned when a request has no replier, or a
	// stateful request's target is no longer a replier for the name.
	ErrAddressNotAvailable = errors.New("address not available")

	// ErrEndpointGone is returned when an endpoint is not (or no longer) open.
	ErrEndpointGone = errors.New("endpoint gone")

	// ErrReplierChanged is returned when a stateful request's target is
	// alive but a different endpoint is now the replier.
	ErrReplierChanged = errors.New("replier changed")

	// ErrQueueFull is returned when admission control rejects a send.
	ErrQueueFull = errors.New("queue full")

	// ErrCancelled is returned by an ALL_OR_WAIT send aborted before admission.
	ErrCancelled = errors.New("send cancelled")

	// ErrFraming is returned when a byte frame cannot be decoded.
	ErrFraming = errors.New("framing error")

	// ErrMessageTooBig is returned when a message exceeds the configured
	// maximum wire size.
	ErrMessageTooBig = errors.New("message too big")

	// ErrBrokerClosed is returned by operations on a stopped broker.
	ErrBrokerClosed = errors.New("broker closed")
)
