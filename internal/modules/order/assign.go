// README: Assignment engine binds one available delivery partner to one order, once.
package order

import (
	"context"
	"errors"
	"fmt"

	"dispatch/internal/apperr"
	"dispatch/internal/auth"
	"dispatch/internal/modules/user"
	"dispatch/internal/notify"
	"dispatch/internal/types"
)

type AssignCommand struct {
	OrderID   types.ID
	PartnerID types.ID
	// Optional RFC3339 overrides; honoured only when both are present and consistent.
	DispatchTime          *string
	EstimatedDeliveryTime *string
	ETA                   *int
}

// Assign moves a READY_FOR_PICKUP order to ASSIGNED and marks the partner busy
// in one unit of work. Preconditions are checked in a fixed order and the first
// failure is returned.
func (s *Service) Assign(ctx context.Context, caller auth.Principal, cmd AssignCommand) (*Order, error) {
	if err := auth.Authorize(caller, auth.RoleManager); err != nil {
		return nil, err
	}
	if cmd.PartnerID == "" {
		return nil, ErrBadRequest.WithMessage("deliveryPartnerId is required")
	}
	if cmd.ETA != nil && *cmd.ETA < 1 {
		return nil, ErrBadRequest.WithMessage("eta must be at least 1 minute")
	}

	var (
		assigned *Order
		partner  *user.User
		wrote    bool
	)
	err := s.inTx(ctx, func(tx Store) error {
		wrote = false
		o, err := tx.Orders().Get(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		if o.DeliveryPartnerID != nil {
			return ErrAlreadyAssigned
		}
		p, err := tx.Users().Get(ctx, cmd.PartnerID)
		if errors.Is(err, user.ErrNotFound) {
			return ErrPartnerNotFound
		}
		if err != nil {
			return fmt.Errorf("load partner: %w", err)
		}
		if !p.IsPartner() {
			return ErrInvalidRole
		}
		if !p.IsAvailable {
			return ErrPartnerUnavailable
		}
		if p.CurrentOrderID != nil {
			return ErrPartnerBusy
		}
		if o.PrepTime <= 0 {
			return ErrPrepTimeRequired
		}
		if !CanTransition(o.Status, StatusAssigned) {
			return ErrInvalidTransition.
				WithMessage(fmt.Sprintf("order must be %s to assign, it is %s", StatusReadyForPickup, o.Status)).
				WithAllowed(NextStates(o.Status)...)
		}

		now := s.now().UTC()
		if cmd.ETA != nil {
			o.ETA = *cmd.ETA
		}
		w, ok := overrideWindow(now, s.cfg.ClockSkew, cmd.DispatchTime, cmd.EstimatedDeliveryTime)
		if !ok {
			w = CalculateDispatchWindow(now, o.PrepTime, o.ETA)
		}
		from, version := o.Status, o.StatusVersion
		o.Status = StatusAssigned
		o.DeliveryPartnerID = p.ID.Ptr()
		o.AssignedAt = &now
		w.apply(o)

		ok, err = tx.Orders().Update(ctx, o, from, version)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if !ok {
			return ErrConflict
		}
		wrote = true

		partnerVersion := p.Version
		p.Bind(string(o.ID))
		ok, err = tx.Users().Update(ctx, p, partnerVersion)
		if err != nil {
			return ErrAssignmentFailed.Wrap(err)
		}
		if !ok {
			return ErrConflict
		}
		if err := tx.Orders().AppendEvent(ctx, s.event(o.ID, from, StatusAssigned, caller, now)); err != nil {
			return ErrAssignmentFailed.Wrap(err)
		}
		assigned, partner = o, p
		return nil
	})
	if err != nil {
		if wrote && apperr.KindOf(err) == apperr.Internal {
			err = ErrAssignmentFailed.Wrap(err)
		}
		if apperr.KindOf(err) == apperr.AssignmentFailed {
			s.log.Error().Err(err).Str("order_id", string(cmd.OrderID)).
				Str("partner_id", string(cmd.PartnerID)).Msg("assignment rolled back")
		}
		return nil, err
	}

	s.cache.Invalidate(ctx, partner.ID)
	s.events.Emit(ctx, notify.PartnerTopic(partner.ID), notify.OrderAssigned, map[string]any{
		"orderId":               assigned.ID,
		"customerName":          assigned.CustomerName,
		"customerAddress":       assigned.CustomerAddress,
		"eta":                   assigned.ETA,
		"dispatchTime":          assigned.DispatchTime,
		"estimatedDeliveryTime": assigned.EstimatedDeliveryTime,
	})
	s.events.Emit(ctx, notify.PartnerTopic(partner.ID), notify.AvailabilityUpdated, map[string]any{
		"isAvailable": false,
		"message":     "You are now unavailable because you have an active order",
	})
	s.events.Emit(ctx, notify.ManagersTopic, notify.OrderAssignedToPartner, map[string]any{
		"orderId":     assigned.ID,
		"partnerId":   partner.ID,
		"partnerName": partner.Name,
	})
	return assigned, nil
}
