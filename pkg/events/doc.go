/*
Package events distributes broker lifecycle events to in-process
subscribers.

The broker publishes an Event when an endpoint opens or closes, a binding
is added or removed, a request is orphaned by a closing replier, or a copy
is dropped because a queue was full. Bridges publish bridge.up and
bridge.down. kbusd subscribes to log the stream and to drive the "bridge"
health component.

Publish never blocks the caller: events go through a buffered channel to a
single distribution goroutine, which hands each one to every subscriber's
own buffer. Either buffer being full drops the event and bumps Dropped.
Events are advisory; nothing in the message path depends on them.

	eb := events.NewBroker()
	eb.Start()
	defer eb.Stop()

	sub := eb.Subscribe()
	defer eb.Unsubscribe(sub)
	for ev := range sub {
		fmt.Println(ev.Type, ev.Metadata)
	}
*/
package events
