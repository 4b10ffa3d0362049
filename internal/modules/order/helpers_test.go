// README: Shared fixture for order service tests on the in-memory store.
package order_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"dispatch/internal/auth"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/user"
	"dispatch/internal/notify"
	"dispatch/internal/storage"
	"dispatch/internal/types"
)

var testNow = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *storage.Memory
	svc     *order.Service
	rec     *notify.Recorder
	manager auth.Principal
	seq     int
}

func newFixture(t *testing.T, opts ...order.Option) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: storage.NewMemory(),
		rec:   &notify.Recorder{},
	}
	f.manager = f.seedUser("Morgan Manager", auth.RoleManager).Principal()
	f.svc = f.service(f.store, opts...)
	return f
}

// service builds a Service over store sharing the fixture clock and recorder.
func (f *fixture) service(store order.Store, opts ...order.Option) *order.Service {
	base := []order.Option{
		order.WithClock(func() time.Time { return testNow }),
		order.WithEmitter(notify.NewNotifier(f.rec, zerolog.Nop())),
	}
	return order.NewService(store, append(base, opts...)...)
}

func (f *fixture) seedUser(name string, role auth.Role) *user.User {
	f.t.Helper()
	f.seq++
	u := &user.User{
		ID:           types.NewID(),
		Name:         name,
		Email:        fmt.Sprintf("user%d@example.com", f.seq),
		Role:         role,
		PasswordHash: "x",
		IsAvailable:  true,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
	require.NoError(f.t, f.store.Users().Create(f.ctx, u))
	return u
}

func (f *fixture) partner(name string) *user.User {
	return f.seedUser(name, auth.RolePartner)
}

func (f *fixture) createCommand() order.CreateCommand {
	eta := 15
	return order.CreateCommand{
		Items: []order.Item{
			{Name: "Margherita", Quantity: 2, Price: decimal.RequireFromString("9.50")},
			{Name: "Cola", Quantity: 1, Price: decimal.RequireFromString("2.25")},
		},
		TotalAmount:     decimal.RequireFromString("21.25"),
		CustomerName:    "Casey Customer",
		CustomerAddress: "1 Main Street",
		CustomerPhone:   "5551234567",
		PrepTime:        10,
		ETA:             &eta,
	}
}

func (f *fixture) createOrder() *order.Order {
	f.t.Helper()
	o, err := f.svc.Create(f.ctx, f.manager, f.createCommand())
	require.NoError(f.t, err)
	return o
}

func (f *fixture) readyOrder() *order.Order {
	f.t.Helper()
	o := f.createOrder()
	o, err := f.svc.SetStatus(f.ctx, f.manager, order.SetStatusCommand{OrderID: o.ID, Status: order.StatusReadyForPickup})
	require.NoError(f.t, err)
	return o
}

func (f *fixture) assigned(p *user.User) *order.Order {
	f.t.Helper()
	o := f.readyOrder()
	o, err := f.svc.Assign(f.ctx, f.manager, order.AssignCommand{OrderID: o.ID, PartnerID: p.ID})
	require.NoError(f.t, err)
	return o
}

func (f *fixture) order(id types.ID) *order.Order {
	f.t.Helper()
	o, err := f.store.Orders().Get(f.ctx, id)
	require.NoError(f.t, err)
	return o
}

func (f *fixture) user(id types.ID) *user.User {
	f.t.Helper()
	u, err := f.store.Users().Get(f.ctx, id)
	require.NoError(f.t, err)
	return u
}

func (f *fixture) setStatus(caller auth.Principal, id types.ID, st order.Status) (*order.Order, error) {
	return f.svc.SetStatus(f.ctx, caller, order.SetStatusCommand{OrderID: id, Status: st})
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }
