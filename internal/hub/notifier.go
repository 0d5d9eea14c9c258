package hub

import "FundLedger/internal/event"

type multiNotifier []Notifier

// MultiNotifier fans committed messages out to several sinks, typically
// the NATS publisher and the persistence recorder. The first sink error
// is returned but every sink still receives the batch.
func MultiNotifier(sinks ...Notifier) Notifier {
	return multiNotifier(sinks)
}

func (m multiNotifier) Publish(msgs ...event.Outbound) error {
	var firstErr error
	for _, n := range m {
		if err := n.Publish(msgs...); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
