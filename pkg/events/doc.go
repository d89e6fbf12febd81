/*
Package events carries progress notifications from the deploy pipeline to
whoever is watching it.

Provisioning, formation, validation and rollback publish Events through a
Publisher. The Broker fans them out to subscribers on a buffered channel,
which lets the CLI print progress lines while hosts are provisioned in
parallel.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.SubscribeAll()
	go func() {
		for ev := range sub {
			fmt.Println(ev.Host, ev.Step, ev.Type)
		}
	}()

Publish waits only while the broker queue itself is full. A Subscribe
channel whose buffer is full misses the event, and Dropped counts those
misses. A SubscribeAll channel gets every event; delivery waits for its
reader, which is what the CLI progress printer uses. Stop drains whatever is queued and closes every
subscriber channel.

A nil *Broker satisfies Publisher and drops events, so components can be
constructed without one in tests.
*/
package events
