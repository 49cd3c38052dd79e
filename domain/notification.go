package domain

import (
	"time"

	"github.com/x-xyz/bidding/base/ctx"
)

type EventType string

const (
	EventBidCardStatusChanged  EventType = "bidcard.status_changed"
	EventBidCardRevised        EventType = "bidcard.revised"
	EventBidSubmitted          EventType = "bid.submitted"
	EventBidUpdated            EventType = "bid.updated"
	EventBidWithdrawn          EventType = "bid.withdrawn"
	EventBidDeclined           EventType = "bid.declined"
	EventAcceptanceCreated     EventType = "acceptance.created"
	EventAcceptanceLapsed      EventType = "acceptance.lapsed"
	EventAcceptancePaid        EventType = "acceptance.paid"
	EventFallbackActivated     EventType = "acceptance.fallback_activated"
	EventNoAcceptanceRemaining EventType = "acceptance.none_remaining"
	EventPaymentConflict       EventType = "payment.conflict"
	EventContactReleased       EventType = "contact.released"
	EventCommitmentCreated     EventType = "commitment.created"
	EventCommitmentExpired     EventType = "commitment.expired"
	EventGroupBidCreated       EventType = "groupbid.created"
	EventGroupBidAccepted      EventType = "groupbid.member_accepted"
	EventGroupThresholdMet     EventType = "groupbid.threshold_met"
	EventGroupBidExpired       EventType = "groupbid.expired"
	EventGroupBidExtended      EventType = "groupbid.deadline_extended"
	EventGroupBidWithdrawn     EventType = "groupbid.withdrawn"
	EventGroupHandOffFailed    EventType = "groupbid.handoff_failed"
)

// Event is a fire-and-forget notification, delivery failures never roll
// back the transition that produced it
type Event struct {
	Id          string                 `json:"id"`
	Type        EventType              `json:"type"`
	AggregateId string                 `json:"aggregateId"`
	Recipients  []string               `json:"recipients,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	OccurredAt  time.Time              `json:"occurredAt"`
}

type Notifier interface {
	Notify(c ctx.Ctx, evt Event)
}

// ContactInfo is the contact payload of one party, opaque to this service
type ContactInfo map[string]string

type IdentityProvider interface {
	GetContact(c ctx.Ctx, userId string) (ContactInfo, error)
}
