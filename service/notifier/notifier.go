package notifier

import (
	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/domain"
)

type logNotifier struct{}

// NewLog writes every event to the request logger
func NewLog() domain.Notifier {
	return logNotifier{}
}

func (logNotifier) Notify(c ctx.Ctx, evt domain.Event) {
	c.WithFields(log.Fields{
		"eventId":     evt.Id,
		"eventType":   evt.Type,
		"aggregateId": evt.AggregateId,
		"recipients":  evt.Recipients,
	}).Info("event")
}

type multi []domain.Notifier

// NewMulti hands every event to each notifier in order
func NewMulti(notifiers ...domain.Notifier) domain.Notifier {
	return multi(notifiers)
}

func (m multi) Notify(c ctx.Ctx, evt domain.Event) {
	for _, n := range m {
		n.Notify(c, evt)
	}
}
