// README: Order store backed by PostgreSQL, plus the persistence contracts the service runs on.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"dispatch/internal/auth"
	"dispatch/internal/infra"
	"dispatch/internal/modules/user"
	"dispatch/internal/types"
)

// Repository persists orders and their audit trail.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	// List returns matching orders newest first.
	List(ctx context.Context, f ListFilter) ([]*Order, error)
	// NextNumber allocates the next order number for the given day key.
	NextNumber(ctx context.Context, day string) (int, error)
	// Update writes the mutable fields when the stored row still has status from
	// and status_version version. It reports false when the row moved on.
	Update(ctx context.Context, o *Order, from Status, version int) (bool, error)
	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, orderID types.ID) ([]*Event, error)
}

type ListFilter struct {
	Status    Status
	PartnerID types.ID
}

func (f ListFilter) Match(o *Order) bool {
	if f.Status != StatusNone && o.Status != f.Status {
		return false
	}
	if f.PartnerID != "" && !o.BoundTo(f.PartnerID) {
		return false
	}
	return true
}

// Store is the unit-of-work boundary: every repository obtained from the Store
// passed to fn commits or rolls back together.
type Store interface {
	Orders() Repository
	Users() user.Repository
	InTx(ctx context.Context, fn func(tx Store) error) error
}

type PGStore struct {
	db infra.Querier
}

func NewStore(db infra.Querier) *PGStore {
	return &PGStore{db: db}
}

const orderColumns = `id, items, total_amount::text, customer_name, customer_address, customer_phone,
	prep_time, eta, dispatch_time, estimated_delivery_time, status, status_version,
	delivery_partner_id, created_by, created_at, updated_at,
	assigned_at, picked_up_at, delivered_time, cancelled_at`

func (s *PGStore) Create(ctx context.Context, o *Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO orders (
			id, items, total_amount, customer_name, customer_address, customer_phone,
			prep_time, eta, dispatch_time, estimated_delivery_time, status, status_version,
			delivery_partner_id, created_by, created_at, updated_at
		) VALUES (
			$1, $2, $3::numeric, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16
		)`,
		string(o.ID), items, o.TotalAmount.StringFixed(types.MoneyScale),
		o.CustomerName, o.CustomerAddress, o.CustomerPhone,
		o.PrepTime, o.ETA, o.DispatchTime, o.EstimatedDeliveryTime,
		string(o.Status), o.StatusVersion,
		idPtr(o.DeliveryPartnerID), string(o.CreatedBy), o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

func (s *PGStore) List(ctx context.Context, f ListFilter) ([]*Order, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR delivery_partner_id = $2)
		ORDER BY created_at DESC, id DESC`,
		string(f.Status), string(f.PartnerID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PGStore) NextNumber(ctx context.Context, day string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		INSERT INTO order_sequences (day, last_number) VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET last_number = order_sequences.last_number + 1
		RETURNING last_number`, day,
	).Scan(&n)
	return n, err
}

func (s *PGStore) Update(ctx context.Context, o *Order, from Status, version int) (bool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE orders
		SET status = $1,
			status_version = status_version + 1,
			prep_time = $2,
			eta = $3,
			dispatch_time = $4,
			estimated_delivery_time = $5,
			delivery_partner_id = $6,
			assigned_at = $7,
			picked_up_at = $8,
			delivered_time = $9,
			cancelled_at = $10,
			updated_at = NOW()
		WHERE id = $11 AND status = $12 AND status_version = $13
		RETURNING status_version, updated_at`,
		string(o.Status), o.PrepTime, o.ETA, o.DispatchTime, o.EstimatedDeliveryTime,
		idPtr(o.DeliveryPartnerID), o.AssignedAt, o.PickedUpAt, o.DeliveredTime, o.CancelledAt,
		string(o.ID), string(from), version,
	)
	err := row.Scan(&o.StatusVersion, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	return s.db.QueryRow(ctx, `
		INSERT INTO order_events (order_id, from_status, to_status, actor_role, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		string(e.OrderID), string(e.FromStatus), string(e.ToStatus),
		string(e.ActorRole), idPtr(e.ActorID), e.CreatedAt,
	).Scan(&e.ID)
}

func (s *PGStore) ListEvents(ctx context.Context, orderID types.ID) ([]*Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, from_status, to_status, actor_role, actor_id, created_at
		FROM order_events
		WHERE order_id = $1
		ORDER BY id`, string(orderID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var (
			e                  Event
			from, to, role, id string
			actorID            *string
		)
		if err := rows.Scan(&e.ID, &id, &from, &to, &role, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.OrderID = types.ID(id)
		e.FromStatus, e.ToStatus = Status(from), Status(to)
		e.ActorRole = auth.Role(role)
		e.ActorID = toID(actorID)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                   Order
		id, status, creator string
		items               []byte
		total               string
		partnerID           *string
	)
	err := row.Scan(
		&id, &items, &total, &o.CustomerName, &o.CustomerAddress, &o.CustomerPhone,
		&o.PrepTime, &o.ETA, &o.DispatchTime, &o.EstimatedDeliveryTime, &status, &o.StatusVersion,
		&partnerID, &creator, &o.CreatedAt, &o.UpdatedAt,
		&o.AssignedAt, &o.PickedUpAt, &o.DeliveredTime, &o.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("decode total amount: %w", err)
	}
	o.ID = types.ID(id)
	o.Status = Status(status)
	o.CreatedBy = types.ID(creator)
	o.DeliveryPartnerID = toID(partnerID)
	utc(&o.CreatedAt, &o.UpdatedAt)
	return &o, nil
}

func utc(ts ...*time.Time) {
	for _, t := range ts {
		*t = t.UTC()
	}
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toID(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}
