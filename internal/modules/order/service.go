// README: Order service implements the lifecycle state machine on top of the unit-of-work store.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dispatch/internal/auth"
	"dispatch/internal/modules/user"
	"dispatch/internal/notify"
	"dispatch/internal/types"
)

// Emitter publishes a notification after a state change has committed.
type Emitter interface {
	Emit(ctx context.Context, topic, eventType string, payload any)
}

type Config struct {
	DefaultETA  int
	MaxAttempts int
	ClockSkew   time.Duration
}

func DefaultConfig() Config {
	return Config{DefaultETA: 15, MaxAttempts: 3, ClockSkew: time.Minute}
}

type Service struct {
	store  Store
	events Emitter
	cache  user.Cache
	log    zerolog.Logger
	cfg    Config
	now    func() time.Time
}

type Option func(*Service)

func WithEmitter(e Emitter) Option       { return func(s *Service) { s.events = e } }
func WithUserCache(c user.Cache) Option  { return func(s *Service) { s.cache = c } }
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}
func WithConfig(cfg Config) Option { return func(s *Service) { s.cfg = cfg } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		events: nopEmitter{},
		cache:  user.NopCache{},
		log:    zerolog.Nop(),
		cfg:    DefaultConfig(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.MaxAttempts < 1 {
		s.cfg.MaxAttempts = 1
	}
	if s.cfg.DefaultETA < 1 {
		s.cfg.DefaultETA = DefaultConfig().DefaultETA
	}
	return s
}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, string, string, any) {}

type CreateCommand struct {
	Items           []Item
	TotalAmount     decimal.Decimal
	CustomerName    string
	CustomerAddress string
	CustomerPhone   string
	PrepTime        int
	ETA             *int
}

type SetStatusCommand struct {
	OrderID types.ID
	Status  Status
}

type UpdatePrepTimeCommand struct {
	OrderID  types.ID
	PrepTime int
}

func (s *Service) Create(ctx context.Context, caller auth.Principal, cmd CreateCommand) (*Order, error) {
	if err := auth.Authorize(caller, auth.RoleManager); err != nil {
		return nil, err
	}
	eta := s.cfg.DefaultETA
	if cmd.ETA != nil {
		eta = *cmd.ETA
	}
	if err := validateCreate(cmd, eta); err != nil {
		return nil, err
	}

	var created *Order
	err := s.inTx(ctx, func(tx Store) error {
		now := s.now().UTC()
		n, err := tx.Orders().NextNumber(ctx, DayKey(now))
		if err != nil {
			return fmt.Errorf("allocate order number: %w", err)
		}
		o := &Order{
			ID:              FormatID(now, n),
			Items:           append([]Item(nil), cmd.Items...),
			TotalAmount:     cmd.TotalAmount.Round(types.MoneyScale),
			CustomerName:    strings.TrimSpace(cmd.CustomerName),
			CustomerAddress: strings.TrimSpace(cmd.CustomerAddress),
			CustomerPhone:   cmd.CustomerPhone,
			PrepTime:        cmd.PrepTime,
			ETA:             eta,
			Status:          StatusPreparing,
			CreatedBy:       caller.ID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		CalculateDispatchWindow(now, o.PrepTime, o.ETA).apply(o)
		if err := tx.Orders().Create(ctx, o); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if err := tx.Orders().AppendEvent(ctx, s.event(o.ID, StatusNone, StatusPreparing, caller, now)); err != nil {
			return fmt.Errorf("append order event: %w", err)
		}
		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, notify.ManagersTopic, notify.OrderCreated, map[string]any{
		"orderId":               created.ID,
		"customerName":          created.CustomerName,
		"status":                created.Status,
		"dispatchTime":          created.DispatchTime,
		"estimatedDeliveryTime": created.EstimatedDeliveryTime,
	})
	return created, nil
}

// Get returns an order. Delivery partners may only read orders bound to them.
func (s *Service) Get(ctx context.Context, caller auth.Principal, id types.ID) (*Order, error) {
	if err := auth.Authorize(caller); err != nil {
		return nil, err
	}
	o, err := s.store.Orders().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller.Role == auth.RolePartner && !o.BoundTo(caller.ID) {
		return nil, ErrForbidden.WithMessage("not authorized to view this order")
	}
	return o, nil
}

func (s *Service) List(ctx context.Context, caller auth.Principal, status Status) ([]*Order, error) {
	if err := auth.Authorize(caller, auth.RoleManager); err != nil {
		return nil, err
	}
	if status != StatusNone && !status.Valid() {
		return nil, ErrBadRequest.WithMessage(fmt.Sprintf("unknown status %q", status))
	}
	return s.store.Orders().List(ctx, ListFilter{Status: status})
}

// ListAssigned returns the caller's own orders, newest first.
func (s *Service) ListAssigned(ctx context.Context, caller auth.Principal) ([]*Order, error) {
	if err := auth.Authorize(caller, auth.RolePartner); err != nil {
		return nil, err
	}
	return s.store.Orders().List(ctx, ListFilter{PartnerID: caller.ID})
}

// Events returns the audit trail of one order.
func (s *Service) Events(ctx context.Context, caller auth.Principal, id types.ID) ([]*Event, error) {
	if err := auth.Authorize(caller, auth.RoleManager); err != nil {
		return nil, err
	}
	if _, err := s.store.Orders().Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Orders().ListEvents(ctx, id)
}

func (s *Service) SetStatus(ctx context.Context, caller auth.Principal, cmd SetStatusCommand) (*Order, error) {
	if err := auth.Authorize(caller, auth.RoleManager, auth.RolePartner); err != nil {
		return nil, err
	}
	if !cmd.Status.Valid() {
		return nil, ErrBadRequest.WithMessage(fmt.Sprintf("unknown status %q", cmd.Status))
	}

	var (
		updated  *Order
		released *user.User
	)
	err := s.inTx(ctx, func(tx Store) error {
		updated, released = nil, nil
		o, err := tx.Orders().Get(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		if caller.Role == auth.RolePartner && !o.BoundTo(caller.ID) {
			return ErrForbidden
		}
		if !CanSet(caller.Role, cmd.Status) {
			return ErrForbidden.WithMessage(fmt.Sprintf("%s can only set status to: %s",
				caller.Role, strings.Join(settableNames(caller.Role), ", ")))
		}
		if o.Status.Terminal() {
			return ErrInvalidTransition.
				WithMessage(fmt.Sprintf("order is %s and can no longer change", o.Status)).
				WithAllowed()
		}
		if !CanTransition(o.Status, cmd.Status) {
			return ErrInvalidTransition.
				WithMessage(fmt.Sprintf("cannot move order from %s to %s", o.Status, cmd.Status)).
				WithAllowed(NextStates(o.Status)...)
		}

		now := s.now().UTC()
		from, version := o.Status, o.StatusVersion
		o.Status = cmd.Status
		switch cmd.Status {
		case StatusPickedUp:
			o.PickedUpAt = &now
		case StatusDelivered:
			o.DeliveredTime = &now
		case StatusCancelled:
			o.CancelledAt = &now
		}
		ok, err := tx.Orders().Update(ctx, o, from, version)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if !ok {
			return ErrConflict
		}

		if o.Status.Terminal() && o.DeliveryPartnerID != nil {
			p, err := s.releasePartner(ctx, tx, o)
			if err != nil {
				return err
			}
			released = p
		}
		if err := tx.Orders().AppendEvent(ctx, s.event(o.ID, from, o.Status, caller, now)); err != nil {
			return fmt.Errorf("append order event: %w", err)
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishStatus(ctx, caller, updated, released)
	return updated, nil
}

// releasePartner frees the partner bound to o inside the same unit of work.
func (s *Service) releasePartner(ctx context.Context, tx Store, o *Order) (*user.User, error) {
	p, err := tx.Users().Get(ctx, *o.DeliveryPartnerID)
	if errors.Is(err, user.ErrNotFound) {
		s.log.Warn().Str("order_id", string(o.ID)).Msg("bound partner missing on release")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load partner: %w", err)
	}
	if p.CurrentOrderID == nil || *p.CurrentOrderID != string(o.ID) {
		return nil, nil
	}
	version := p.Version
	p.Release()
	ok, err := tx.Users().Update(ctx, p, version)
	if err != nil {
		return nil, fmt.Errorf("release partner: %w", err)
	}
	if !ok {
		return nil, ErrConflict
	}
	return p, nil
}

func (s *Service) publishStatus(ctx context.Context, caller auth.Principal, o *Order, released *user.User) {
	s.events.Emit(ctx, notify.ManagersTopic, notify.OrderStatusUpdated, map[string]any{
		"orderId":     o.ID,
		"status":      o.Status,
		"updatedBy":   caller.Role,
		"updatedById": caller.ID,
	})
	if o.DeliveryPartnerID != nil {
		s.events.Emit(ctx, notify.PartnerTopic(*o.DeliveryPartnerID), notify.OrderStatusUpdated, map[string]any{
			"orderId": o.ID,
			"status":  o.Status,
		})
	}
	if o.Status == StatusDelivered {
		payload := map[string]any{
			"orderId":           o.ID,
			"deliveryPartnerId": o.DeliveryPartnerID,
			"deliveredTime":     o.DeliveredTime,
		}
		s.events.Emit(ctx, notify.ManagersTopic, notify.DeliveryCompleted, payload)
		if o.DeliveryPartnerID != nil {
			s.events.Emit(ctx, notify.PartnerTopic(*o.DeliveryPartnerID), notify.DeliveryCompleted, payload)
		}
	}
	if released != nil {
		s.cache.Invalidate(ctx, released.ID)
		s.events.Emit(ctx, notify.PartnerTopic(released.ID), notify.AvailabilityUpdated, map[string]any{
			"isAvailable": true,
			"message":     "You are now available for new orders",
		})
		s.events.Emit(ctx, notify.ManagersTopic, notify.PartnerAvailabilityChanged, map[string]any{
			"partnerId":   released.ID,
			"name":        released.Name,
			"isAvailable": true,
		})
	}
}

func (s *Service) UpdatePrepTime(ctx context.Context, caller auth.Principal, cmd UpdatePrepTimeCommand) (*Order, error) {
	if err := auth.Authorize(caller, auth.RoleManager); err != nil {
		return nil, err
	}
	if cmd.PrepTime < 1 {
		return nil, ErrBadRequest.WithMessage("prepTime must be at least 1 minute")
	}

	var updated *Order
	err := s.inTx(ctx, func(tx Store) error {
		o, err := tx.Orders().Get(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		if !prepTimeOpen(o.Status) {
			allowed := make([]string, 0, len(prepTimeEditable))
			for _, st := range prepTimeEditable {
				allowed = append(allowed, string(st))
			}
			return ErrInvalidState.
				WithMessage(fmt.Sprintf("cannot update prep time for orders in %s status", o.Status)).
				WithAllowed(allowed...)
		}
		from, version := o.Status, o.StatusVersion
		o.PrepTime = cmd.PrepTime
		CalculateDispatchWindow(s.now().UTC(), o.PrepTime, o.ETA).apply(o)
		ok, err := tx.Orders().Update(ctx, o, from, version)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if !ok {
			return ErrConflict
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, notify.ManagersTopic, notify.PrepTimeUpdated, map[string]any{
		"orderId":               updated.ID,
		"prepTime":              updated.PrepTime,
		"dispatchTime":          updated.DispatchTime,
		"estimatedDeliveryTime": updated.EstimatedDeliveryTime,
	})
	return updated, nil
}

func prepTimeOpen(st Status) bool {
	for _, s := range prepTimeEditable {
		if s == st {
			return true
		}
	}
	return false
}

// inTx runs fn as one unit of work, retrying when a conditional write lost a race.
func (s *Service) inTx(ctx context.Context, fn func(tx Store) error) error {
	var err error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		err = s.store.InTx(ctx, fn)
		if !errors.Is(err, ErrConflict) {
			return err
		}
		s.log.Debug().Int("attempt", attempt).Msg("order unit of work conflicted, retrying")
	}
	return ErrConflict.WithMessage("order was modified concurrently, please retry").Wrap(err)
}

func (s *Service) event(id types.ID, from, to Status, caller auth.Principal, at time.Time) *Event {
	return &Event{
		OrderID:    id,
		FromStatus: from,
		ToStatus:   to,
		ActorRole:  caller.Role,
		ActorID:    caller.ID.Ptr(),
		CreatedAt:  at,
	}
}

func validateCreate(cmd CreateCommand, eta int) error {
	if len(cmd.Items) == 0 {
		return ErrBadRequest.WithMessage("order must contain at least one item")
	}
	sum := decimal.Zero
	for i, it := range cmd.Items {
		if strings.TrimSpace(it.Name) == "" {
			return ErrBadRequest.WithMessage(fmt.Sprintf("items[%d].name is required", i))
		}
		if it.Quantity < 1 {
			return ErrBadRequest.WithMessage(fmt.Sprintf("items[%d].quantity must be at least 1", i))
		}
		if it.Price.IsNegative() {
			return ErrBadRequest.WithMessage(fmt.Sprintf("items[%d].price must not be negative", i))
		}
		sum = sum.Add(types.LineTotal(it.Quantity, it.Price))
	}
	if cmd.TotalAmount.IsNegative() {
		return ErrBadRequest.WithMessage("totalAmount must not be negative")
	}
	if !types.SameAmount(sum, cmd.TotalAmount) {
		return ErrBadRequest.WithMessage(fmt.Sprintf("totalAmount %s does not match item total %s",
			cmd.TotalAmount.StringFixed(types.MoneyScale), sum.StringFixed(types.MoneyScale)))
	}
	if strings.TrimSpace(cmd.CustomerName) == "" {
		return ErrBadRequest.WithMessage("customerName is required")
	}
	if strings.TrimSpace(cmd.CustomerAddress) == "" {
		return ErrBadRequest.WithMessage("customerAddress is required")
	}
	if !validPhone(cmd.CustomerPhone) {
		return ErrBadRequest.WithMessage("customerPhone must be exactly 10 digits")
	}
	if cmd.PrepTime < 1 {
		return ErrBadRequest.WithMessage("prepTime must be at least 1 minute")
	}
	if eta < 5 {
		return ErrBadRequest.WithMessage("eta must be at least 5 minutes")
	}
	return nil
}

func validPhone(p string) bool {
	if len(p) != 10 {
		return false
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
