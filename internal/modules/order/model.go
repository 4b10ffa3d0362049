// README: Order aggregate, status definitions and the lifecycle transition table.
package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dispatch/internal/apperr"
	"dispatch/internal/auth"
	"dispatch/internal/types"
)

type Status string

const (
	StatusNone           Status = ""
	StatusPreparing      Status = "PREPARING"
	StatusReadyForPickup Status = "READY_FOR_PICKUP"
	StatusAssigned       Status = "ASSIGNED"
	StatusPickedUp       Status = "PICKED_UP"
	StatusOnRoute        Status = "ON_ROUTE"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
)

var statuses = []Status{
	StatusPreparing, StatusReadyForPickup, StatusAssigned,
	StatusPickedUp, StatusOnRoute, StatusDelivered, StatusCancelled,
}

func (s Status) Valid() bool {
	for _, v := range statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal orders are immutable.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

type Item struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type Order struct {
	ID                    types.ID        `json:"orderId"`
	Items                 []Item          `json:"items"`
	TotalAmount           decimal.Decimal `json:"totalAmount"`
	CustomerName          string          `json:"customerName"`
	CustomerAddress       string          `json:"customerAddress"`
	CustomerPhone         string          `json:"customerPhone"`
	PrepTime              int             `json:"prepTime"`
	ETA                   int             `json:"eta"`
	DispatchTime          *time.Time      `json:"dispatchTime"`
	EstimatedDeliveryTime *time.Time      `json:"estimatedDeliveryTime"`
	Status                Status          `json:"status"`
	StatusVersion         int             `json:"-"`
	DeliveryPartnerID     *types.ID       `json:"deliveryPartnerId"`
	CreatedBy             types.ID        `json:"createdBy"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
	AssignedAt            *time.Time      `json:"assignedAt,omitempty"`
	PickedUpAt            *time.Time      `json:"pickedUpAt,omitempty"`
	DeliveredTime         *time.Time      `json:"deliveredTime,omitempty"`
	CancelledAt           *time.Time      `json:"cancelledAt,omitempty"`
}

// BoundTo reports whether partnerID is the partner carrying the order.
func (o *Order) BoundTo(partnerID types.ID) bool {
	return o.DeliveryPartnerID != nil && *o.DeliveryPartnerID == partnerID
}

// CurrentEstimate is the persisted estimated delivery time, or nil once the order is finished.
func (o *Order) CurrentEstimate() *time.Time {
	if o.Status.Terminal() {
		return nil
	}
	return o.EstimatedDeliveryTime
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	c.DispatchTime = cloneTime(o.DispatchTime)
	c.EstimatedDeliveryTime = cloneTime(o.EstimatedDeliveryTime)
	c.AssignedAt = cloneTime(o.AssignedAt)
	c.PickedUpAt = cloneTime(o.PickedUpAt)
	c.DeliveredTime = cloneTime(o.DeliveredTime)
	c.CancelledAt = cloneTime(o.CancelledAt)
	if o.DeliveryPartnerID != nil {
		c.DeliveryPartnerID = o.DeliveryPartnerID.Ptr()
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// FormatID renders the day-scoped order number, e.g. ORD-20240131-0007.
func FormatID(day time.Time, n int) types.ID {
	return types.ID(fmt.Sprintf("ORD-%s-%04d", DayKey(day), n))
}

// DayKey is the UTC day an order number sequence is scoped to.
func DayKey(t time.Time) string {
	return t.UTC().Format("20060102")
}

// Event is one row of the order audit trail.
type Event struct {
	ID         int64     `json:"id"`
	OrderID    types.ID  `json:"orderId"`
	FromStatus Status    `json:"fromStatus"`
	ToStatus   Status    `json:"toStatus"`
	ActorRole  auth.Role `json:"actorRole"`
	ActorID    *types.ID `json:"actorId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// AllowedTransitions represents the order state flow (diagram) as code.
var AllowedTransitions = map[Status][]Status{
	StatusPreparing:      {StatusReadyForPickup, StatusCancelled},
	StatusReadyForPickup: {StatusAssigned, StatusCancelled},
	StatusAssigned:       {StatusPickedUp, StatusCancelled},
	StatusPickedUp:       {StatusOnRoute},
	StatusOnRoute:        {StatusDelivered},
	StatusDelivered:      {},
	StatusCancelled:      {},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NextStates lists the statuses reachable from s, as strings for error payloads.
func NextStates(s Status) []string {
	out := make([]string, 0, len(AllowedTransitions[s]))
	for _, n := range AllowedTransitions[s] {
		out = append(out, string(n))
	}
	return out
}

// Statuses each role may request through SetStatus. ASSIGNED is reachable only through Assign.
var settableBy = map[auth.Role][]Status{
	auth.RoleManager: {StatusPreparing, StatusReadyForPickup, StatusCancelled},
	auth.RolePartner: {StatusPickedUp, StatusOnRoute, StatusDelivered},
}

func CanSet(role auth.Role, to Status) bool {
	for _, s := range settableBy[role] {
		if s == to {
			return true
		}
	}
	return false
}

func settableNames(role auth.Role) []string {
	var out []string
	for _, s := range settableBy[role] {
		out = append(out, string(s))
	}
	return out
}

// prepTimeEditable are the states in which the kitchen estimate may still change.
var prepTimeEditable = []Status{StatusPreparing, StatusReadyForPickup}

var (
	ErrNotFound           = apperr.New(apperr.NotFound, "order not found")
	ErrBadRequest         = apperr.New(apperr.InvalidInput, "bad request")
	ErrForbidden          = apperr.New(apperr.Forbidden, "not authorized to update this order")
	ErrInvalidTransition  = apperr.New(apperr.InvalidTransition, "invalid status transition")
	ErrInvalidState       = apperr.New(apperr.InvalidState, "operation not allowed in current order state")
	ErrAlreadyAssigned    = apperr.New(apperr.AlreadyAssigned, "order already has a delivery partner")
	ErrPartnerNotFound    = apperr.New(apperr.PartnerNotFound, "delivery partner not found")
	ErrInvalidRole        = apperr.New(apperr.InvalidRole, "user is not a delivery partner")
	ErrPartnerUnavailable = apperr.New(apperr.PartnerUnavailable, "delivery partner is not available")
	ErrPartnerBusy        = apperr.New(apperr.PartnerBusy, "delivery partner already has an active order")
	ErrPrepTimeRequired   = apperr.New(apperr.PrepTimeRequired, "order preparation time must be set before assignment")
	ErrAssignmentFailed   = apperr.New(apperr.AssignmentFailed, "assignment failed, no changes were applied")
	ErrConflict           = apperr.New(apperr.Conflict, "order state conflict")
)
