// README: Concurrency tests for assignment and status transitions (run with -race).
package order_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/modules/order"
	"dispatch/internal/modules/user"
	"dispatch/internal/types"
)

func TestConcurrentAssignSameOrder(t *testing.T) {
	f := newFixture(t)
	o := f.readyOrder()

	const n = 8
	partners := make([]*user.User, n)
	for i := range partners {
		partners[i] = f.partner("racer")
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, p := range partners {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			_, err := f.svc.Assign(f.ctx, f.manager, order.AssignCommand{OrderID: o.ID, PartnerID: id})
			errs <- err
		}(p.ID)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, order.ErrAlreadyAssigned) && !errors.Is(err, order.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, success)

	final := f.order(o.ID)
	require.NotNil(t, final.DeliveryPartnerID)
	busy := 0
	for _, p := range partners {
		u := f.user(p.ID)
		if u.CurrentOrderID != nil {
			busy++
			assert.Equal(t, *final.DeliveryPartnerID, u.ID)
			assert.False(t, u.IsAvailable)
		} else {
			assert.True(t, u.IsAvailable)
		}
	}
	assert.Equal(t, 1, busy)
}

func TestConcurrentAssignSamePartner(t *testing.T) {
	f := newFixture(t)
	p := f.partner("Pat")

	const n = 6
	orders := make([]*order.Order, n)
	for i := range orders {
		orders[i] = f.readyOrder()
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, o := range orders {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			_, err := f.svc.Assign(f.ctx, f.manager, order.AssignCommand{OrderID: id, PartnerID: p.ID})
			errs <- err
		}(o.ID)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, order.ErrPartnerUnavailable) && !errors.Is(err, order.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, success)

	bound := 0
	for _, o := range orders {
		if f.order(o.ID).DeliveryPartnerID != nil {
			bound++
		}
	}
	assert.Equal(t, 1, bound)
}

func TestConcurrentAssignVsCancel(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		p := f.partner("Pat")
		o := f.readyOrder()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Assign(f.ctx, f.manager, order.AssignCommand{OrderID: o.ID, PartnerID: p.ID})
		}()
		go func() {
			defer wg.Done()
			_, _ = f.setStatus(f.manager, o.ID, order.StatusCancelled)
		}()
		wg.Wait()

		final := f.order(o.ID)
		partner := f.user(p.ID)
		switch final.Status {
		case order.StatusAssigned:
			require.NotNil(t, partner.CurrentOrderID)
			assert.Equal(t, string(o.ID), *partner.CurrentOrderID)
			assert.False(t, partner.IsAvailable)
		case order.StatusCancelled:
			assert.Nil(t, partner.CurrentOrderID, "cancelled order must not hold the partner")
			assert.True(t, partner.IsAvailable)
		default:
			t.Fatalf("unexpected final status %s", final.Status)
		}
	}
}
