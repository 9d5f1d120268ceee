/*
Package client is the application-facing handle on a kbus broker.

A Ksock wraps one endpoint. It binds names, sends messages, and drains the
endpoint's queue:

	k, err := client.Open(b)
	if err != nil {
		return err
	}
	defer k.Close()

	// Answer requests for $.Time.Now
	if err := k.Bind("$.Time.Now", true); err != nil {
		return err
	}
	for {
		req, err := k.ReceiveWait(ctx)
		if err != nil {
			return err
		}
		if req.WantsUsToReply() {
			_, err = k.Reply(ctx, req, []byte(time.Now().Format(time.Kitchen)))
		}
	}

On the other side Call sends a request and blocks for the reply, or for
the status the broker sends when the replier goes away or gives the
request up:

	rep, err := k.Call(ctx, message.NewRequest("$.Time.Now", nil))
	if err != nil {
		return err
	}
	if rep.IsSynthetic() {
		return fmt.Errorf("no answer: %s", rep.Name)
	}

Messages that arrive during a Call and do not answer it are held back and
returned by the next Receive, in their original order.

Bus is the subset of *broker.Broker a Ksock calls. Bridges open their own
Ksock through the same interface, so a fake Bus is enough to test code
written against this package.
*/
package client
