// README: Dispatch window arithmetic.
package order

import "time"

// Window is the pair of timestamps persisted on an order.
type Window struct {
	DispatchTime          time.Time
	EstimatedDeliveryTime time.Time
}

// CalculateDispatchWindow anchors the window at now: dispatch after prepTime minutes,
// delivery eta minutes after that. Callers persist the result.
func CalculateDispatchWindow(now time.Time, prepTime, eta int) Window {
	dispatch := now.Add(time.Duration(prepTime) * time.Minute)
	return Window{
		DispatchTime:          dispatch,
		EstimatedDeliveryTime: dispatch.Add(time.Duration(eta) * time.Minute),
	}
}

// apply stamps w onto o.
func (w Window) apply(o *Order) {
	d, e := w.DispatchTime, w.EstimatedDeliveryTime
	o.DispatchTime = &d
	o.EstimatedDeliveryTime = &e
}

// overrideWindow accepts caller-supplied timestamps only when both parse as RFC3339,
// dispatch is not earlier than now minus skew, and delivery follows dispatch.
func overrideWindow(now time.Time, skew time.Duration, dispatch, estimated *string) (Window, bool) {
	if dispatch == nil || estimated == nil {
		return Window{}, false
	}
	d, err := time.Parse(time.RFC3339, *dispatch)
	if err != nil {
		return Window{}, false
	}
	e, err := time.Parse(time.RFC3339, *estimated)
	if err != nil {
		return Window{}, false
	}
	if d.Before(now.Add(-skew)) || !e.After(d) {
		return Window{}, false
	}
	return Window{DispatchTime: d.UTC(), EstimatedDeliveryTime: e.UTC()}, true
}
