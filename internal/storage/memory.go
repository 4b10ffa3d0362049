// README: In-memory store for tests and dev mode; transactions stage writes and validate versions at commit.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dispatch/internal/modules/order"
	"dispatch/internal/modules/user"
	"dispatch/internal/types"
)

type Memory struct {
	mu          sync.Mutex
	orders      map[types.ID]*order.Order
	users       map[types.ID]*user.User
	events      []*order.Event
	seq         map[string]int
	nextEventID int64
	now         func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		orders: map[types.ID]*order.Order{},
		users:  map[types.ID]*user.User{},
		seq:    map[string]int{},
		now:    time.Now,
	}
}

// Orders and Users outside InTx commit every write on its own.
func (m *Memory) Orders() order.Repository { return autoOrders{m: m} }
func (m *Memory) Users() user.Repository   { return autoUsers{m: m} }

// InTx stages every write made through tx and applies them atomically after fn
// returns nil. A record changed by another commit in the meantime aborts the
// whole transaction with order.ErrConflict.
func (m *Memory) InTx(ctx context.Context, fn func(order.Store) error) error {
	tx := &memTx{
		m:      m,
		orders: map[types.ID]*stagedOrder{},
		users:  map[types.ID]*stagedUser{},
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

type stagedOrder struct {
	o       *order.Order
	base    int
	created bool
}

type stagedUser struct {
	u       *user.User
	base    int
	created bool
}

type memTx struct {
	m      *Memory
	orders map[types.ID]*stagedOrder
	users  map[types.ID]*stagedUser
	events []*order.Event
}

func (t *memTx) Orders() order.Repository { return txOrders{t} }
func (t *memTx) Users() user.Repository   { return txUsers{t} }

func (t *memTx) InTx(_ context.Context, fn func(order.Store) error) error {
	return fn(t)
}

func (t *memTx) commit() error {
	m := t.m
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range t.orders {
		cur, exists := m.orders[id]
		if s.created && exists {
			return fmt.Errorf("order %s already exists", id)
		}
		if !s.created && (!exists || cur.StatusVersion != s.base) {
			return order.ErrConflict
		}
	}
	for id, s := range t.users {
		cur, exists := m.users[id]
		if s.created {
			if exists || m.emailTaken(s.u.Email) {
				return user.ErrEmailExists
			}
			continue
		}
		if !exists || cur.Version != s.base {
			return user.ErrConflict
		}
	}

	for id, s := range t.orders {
		m.orders[id] = s.o.Clone()
	}
	for id, s := range t.users {
		m.users[id] = s.u.Clone()
	}
	for _, e := range t.events {
		m.nextEventID++
		e.ID = m.nextEventID
		c := *e
		m.events = append(m.events, &c)
	}
	return nil
}

func (m *Memory) emailTaken(email string) bool {
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

type txOrders struct{ t *memTx }

func (r txOrders) view(id types.ID) *order.Order {
	if s, ok := r.t.orders[id]; ok {
		return s.o.Clone()
	}
	m := r.t.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		return o.Clone()
	}
	return nil
}

func (r txOrders) Create(_ context.Context, o *order.Order) error {
	if r.view(o.ID) != nil {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	r.t.orders[o.ID] = &stagedOrder{o: o.Clone(), created: true}
	return nil
}

func (r txOrders) Get(_ context.Context, id types.ID) (*order.Order, error) {
	if o := r.view(id); o != nil {
		return o, nil
	}
	return nil, order.ErrNotFound
}

func (r txOrders) List(_ context.Context, f order.ListFilter) ([]*order.Order, error) {
	m := r.t.m
	merged := map[types.ID]*order.Order{}
	m.mu.Lock()
	for id, o := range m.orders {
		merged[id] = o
	}
	m.mu.Unlock()
	for id, s := range r.t.orders {
		merged[id] = s.o
	}

	var out []*order.Order
	for _, o := range merged {
		if f.Match(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// NextNumber is not rolled back with the transaction; numbers may have gaps.
func (r txOrders) NextNumber(_ context.Context, day string) (int, error) {
	m := r.t.m
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[day]++
	return m.seq[day], nil
}

func (r txOrders) Update(_ context.Context, o *order.Order, from order.Status, version int) (bool, error) {
	cur := r.view(o.ID)
	if cur == nil || cur.Status != from || cur.StatusVersion != version {
		return false, nil
	}
	next := o.Clone()
	next.StatusVersion = version + 1
	next.UpdatedAt = r.t.m.now().UTC()

	s, staged := r.t.orders[o.ID]
	if !staged {
		s = &stagedOrder{base: version}
		r.t.orders[o.ID] = s
	}
	s.o = next
	o.StatusVersion, o.UpdatedAt = next.StatusVersion, next.UpdatedAt
	return true, nil
}

func (r txOrders) AppendEvent(_ context.Context, e *order.Event) error {
	r.t.events = append(r.t.events, e)
	return nil
}

func (r txOrders) ListEvents(_ context.Context, orderID types.ID) ([]*order.Event, error) {
	m := r.t.m
	var out []*order.Event
	m.mu.Lock()
	for _, e := range m.events {
		if e.OrderID == orderID {
			c := *e
			out = append(out, &c)
		}
	}
	m.mu.Unlock()
	for _, e := range r.t.events {
		if e.OrderID == orderID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

type txUsers struct{ t *memTx }

func (r txUsers) view(id types.ID) *user.User {
	if s, ok := r.t.users[id]; ok {
		return s.u.Clone()
	}
	m := r.t.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u.Clone()
	}
	return nil
}

func (r txUsers) all() []*user.User {
	m := r.t.m
	merged := map[types.ID]*user.User{}
	m.mu.Lock()
	for id, u := range m.users {
		merged[id] = u
	}
	m.mu.Unlock()
	for id, s := range r.t.users {
		merged[id] = s.u
	}
	out := make([]*user.User, 0, len(merged))
	for _, u := range merged {
		out = append(out, u.Clone())
	}
	return out
}

func (r txUsers) Create(_ context.Context, u *user.User) error {
	u.Email = strings.ToLower(u.Email)
	for _, existing := range r.all() {
		if existing.ID == u.ID || existing.Email == u.Email {
			return user.ErrEmailExists
		}
	}
	r.t.users[u.ID] = &stagedUser{u: u.Clone(), created: true}
	return nil
}

func (r txUsers) Get(_ context.Context, id types.ID) (*user.User, error) {
	if u := r.view(id); u != nil {
		return u, nil
	}
	return nil, user.ErrNotFound
}

func (r txUsers) GetByEmail(_ context.Context, email string) (*user.User, error) {
	for _, u := range r.all() {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r txUsers) ListPartners(_ context.Context, onlyAvailable bool) ([]*user.User, error) {
	var out []*user.User
	for _, u := range r.all() {
		if u.IsPartner() && (!onlyAvailable || u.IsAvailable) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r txUsers) Update(_ context.Context, u *user.User, version int) (bool, error) {
	cur := r.view(u.ID)
	if cur == nil || cur.Version != version {
		return false, nil
	}
	next := u.Clone()
	next.Email = cur.Email
	next.Role = cur.Role
	next.CreatedAt = cur.CreatedAt
	next.Version = version + 1
	next.UpdatedAt = r.t.m.now().UTC()

	s, staged := r.t.users[u.ID]
	if !staged {
		s = &stagedUser{base: version}
		r.t.users[u.ID] = s
	}
	s.u = next
	u.Version, u.UpdatedAt = next.Version, next.UpdatedAt
	return true, nil
}

// autoOrders and autoUsers wrap each call in its own transaction.
type autoOrders struct{ m *Memory }

func (a autoOrders) Create(ctx context.Context, o *order.Order) error {
	return a.m.InTx(ctx, func(tx order.Store) error { return tx.Orders().Create(ctx, o) })
}

func (a autoOrders) Get(ctx context.Context, id types.ID) (o *order.Order, err error) {
	err = a.m.InTx(ctx, func(tx order.Store) error {
		o, err = tx.Orders().Get(ctx, id)
		return err
	})
	return o, err
}

func (a autoOrders) List(ctx context.Context, f order.ListFilter) (out []*order.Order, err error) {
	err = a.m.InTx(ctx, func(tx order.Store) error {
		out, err = tx.Orders().List(ctx, f)
		return err
	})
	return out, err
}

func (a autoOrders) NextNumber(ctx context.Context, day string) (n int, err error) {
	err = a.m.InTx(ctx, func(tx order.Store) error {
		n, err = tx.Orders().NextNumber(ctx, day)
		return err
	})
	return n, err
}

func (a autoOrders) Update(ctx context.Context, o *order.Order, from order.Status, version int) (ok bool, err error) {
	err = a.m.InTx(ctx, func(tx order.Store) error {
		ok, err = tx.Orders().Update(ctx, o, from, version)
		return err
	})
	if errors.Is(err, order.ErrConflict) {
		return false, nil
	}
	return ok, err
}

func (a autoOrders) AppendEvent(ctx context.Context, e *order.Event) error {
	return a.m.InTx(ctx, func(tx order.Store) error { return tx.Orders().AppendEvent(ctx, e) })
}

func (a autoOrders) ListEvents(ctx context.Context, orderID types.ID) (out []*order.Event, err error) {
	err = a.m.InTx(ctx, func(tx order.Store) error {
		out, err = tx.Orders().ListEvents(ctx, orderID)
		return err
	})
	return out, err
}

type autoUsers struct{ m *Memory }

func (a autoUsers) Create(ctx context.Context, u *user.User) error {
	return a.m.InTx(ctx, func(tx order.Store) error { return tx.Users().Create(ctx, u) })
}

func (a autoUsers) Get(ctx context.Context, id types.ID) (u *user.User, err error) {
	err = a.m.InTx(ctx, func(tx order.Store) error {
		u, err = tx.Users().Get(ctx, id)
		return err
	})
	return u, err
}

func (a autoUsers) GetByEmail(ctx context.Context, email string) (u *user.User, err error) {
	err = a.m.InTx(ctx, func(tx order.Store) error {
		u, err = tx.Users().GetByEmail(ctx, email)
		return err
	})
	return u, err
}

func (a autoUsers) ListPartners(ctx context.Context, onlyAvailable bool) (out []*user.User, err error) {
	err = a.m.InTx(ctx, func(tx order.Store) error {
		out, err = tx.Users().ListPartners(ctx, onlyAvailable)
		return err
	})
	return out, err
}

func (a autoUsers) Update(ctx context.Context, u *user.User, version int) (ok bool, err error) {
	err = a.m.InTx(ctx, func(tx order.Store) error {
		ok, err = tx.Users().Update(ctx, u, version)
		return err
	})
	if errors.Is(err, user.ErrConflict) {
		return false, nil
	}
	return ok, err
}
