// README: Event envelope and topic naming for real-time notifications.
package notify

import (
	"context"
	"time"

	"dispatch/internal/types"
)

const (
	ManagersTopic = "managers"
	PartnersTopic = "delivery_partners"
)

// Event types published by the order and user modules.
const (
	OrderCreated               = "order_created"
	OrderAssigned              = "order_assigned"
	OrderAssignedToPartner     = "order_assigned_to_partner"
	OrderStatusUpdated         = "order_status_updated"
	PrepTimeUpdated            = "prep_time_updated"
	DeliveryCompleted          = "delivery_completed"
	AvailabilityUpdated        = "availability_updated"
	PartnerAvailabilityChanged = "delivery_partner_availability_changed"
)

func PartnerTopic(id types.ID) string {
	return "partner_" + string(id)
}

type Event struct {
	Type    string    `json:"type"`
	Topic   string    `json:"topic"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// Publisher delivers an event to every subscriber of its topic.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}
