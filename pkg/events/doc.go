/*
Package events provides an in-memory event broker for fleetctl's pub/sub
messaging: a non-blocking broadcast bus with buffered per-subscriber
channels, used to fan out cluster events (instance lifecycle, job
completion, node liveness changes) to observers such as pkg/metrics and
an eventual CLI "watch" surface.

	Publisher -> eventCh (buffer 100) -> broadcast loop -> subscriber chans (buffer 50)

Usage:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go func() {
		for ev := range sub {
			fmt.Printf("[%s] %s: %s\n", ev.Timestamp.Format(time.RFC3339), ev.Type, ev.Message)
		}
	}()

	broker.Publish(&events.Event{Type: events.EventInstanceCreated, Instance: "i.example.com"})
*/
package events
