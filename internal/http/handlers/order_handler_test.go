// README: End-to-end handler tests through the gin router on the in-memory store.
package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"dispatch/internal/auth"
	httpapi "dispatch/internal/http"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/user"
	"dispatch/internal/notify"
	"dispatch/internal/storage"
)

type api struct {
	t      *testing.T
	router *gin.Engine
	rec    *notify.Recorder
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwt, err := auth.NewJWT("handler-test-secret", time.Hour)
	require.NoError(t, err)

	store := storage.NewMemory()
	rec := &notify.Recorder{}
	events := notify.NewNotifier(rec, zerolog.Nop())

	users := user.NewService(store.Users(), jwt,
		user.WithEmitter(events),
		user.WithHashCost(bcrypt.MinCost),
		user.WithLogger(zerolog.Nop()),
	)
	orders := order.NewService(store,
		order.WithEmitter(events),
		order.WithLogger(zerolog.Nop()),
	)
	srv := httpapi.NewServer(httpapi.ServerDeps{
		Order:    orders,
		User:     users,
		Verifier: jwt,
		Log:      zerolog.Nop(),
	})
	return &api{t: t, router: srv.Routes(), rec: rec}
}

func (a *api) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type session struct {
	Token string `json:"token"`
	User  struct {
		ID          string `json:"id"`
		Role        string `json:"role"`
		IsAvailable bool   `json:"isAvailable"`
	} `json:"user"`
}

func (a *api) register(name, email, role string) session {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/auth/register", map[string]any{
		"name": name, "email": email, "password": "secret123", "role": role,
	}, "")
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[session](a.t, w)
}

type errorEnvelope struct {
	Error struct {
		Kind    string   `json:"kind"`
		Message string   `json:"message"`
		Allowed []string `json:"allowed"`
	} `json:"error"`
}

func orderBody() map[string]any {
	return map[string]any{
		"items": []map[string]any{
			{"name": "Margherita", "quantity": 2, "price": 9.5},
			{"name": "Soda", "quantity": 1, "price": 2.25},
		},
		"totalAmount":     21.25,
		"customerName":    "Ada Lovelace",
		"customerAddress": "12 Analytical Row",
		"customerPhone":   "5551234567",
		"prepTime":        10,
	}
}

type orderView struct {
	Order struct {
		OrderID           string  `json:"orderId"`
		Status            string  `json:"status"`
		DeliveryPartnerID *string `json:"deliveryPartnerId"`
	} `json:"order"`
	DispatchTime          *time.Time `json:"dispatchTime"`
	EstimatedDeliveryTime *time.Time `json:"estimatedDeliveryTime"`
	Message               string     `json:"message"`
}

func (a *api) createOrder(token string) string {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/orders", orderBody(), token)
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	v := decode[orderView](a.t, w)
	require.NotEmpty(a.t, v.Order.OrderID)
	return v.Order.OrderID
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	w := a.do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestAuthFlow(t *testing.T) {
	a := newAPI(t)
	s := a.register("Morgan", "Morgan@Example.com", "manager")
	assert.Equal(t, "manager", s.User.Role)

	w := a.do(http.MethodPost, "/api/auth/login", map[string]any{
		"email": "morgan@example.com", "password": "secret123",
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	login := decode[session](t, w)
	assert.Equal(t, s.User.ID, login.User.ID)

	w = a.do(http.MethodPost, "/api/auth/login", map[string]any{
		"email": "morgan@example.com", "password": "wrong-password",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(http.MethodGet, "/api/auth/user", nil, login.Token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "password")

	w = a.do(http.MethodPost, "/api/auth/register", map[string]any{
		"name": "Morgan", "email": "morgan@example.com", "password": "secret123", "role": "manager",
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(http.MethodPut, "/api/auth/password", map[string]any{
		"currentPassword": "secret123", "newPassword": "secret456",
	}, login.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = a.do(http.MethodPost, "/api/auth/login", map[string]any{
		"email": "morgan@example.com", "password": "secret456",
	}, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnauthenticated(t *testing.T) {
	a := newAPI(t)
	w := a.do(http.MethodGet, "/api/orders", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthenticated", decode[errorEnvelope](t, w).Error.Kind)

	w = a.do(http.MethodGet, "/api/orders", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateOrder(t *testing.T) {
	a := newAPI(t)
	m := a.register("Morgan", "morgan@example.com", "manager")
	p := a.register("Pat Rider", "pat@example.com", "delivery_partner")

	w := a.do(http.MethodPost, "/api/orders", orderBody(), p.Token)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", decode[errorEnvelope](t, w).Error.Kind)

	w = a.do(http.MethodPost, "/api/orders", orderBody(), m.Token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	v := decode[orderView](t, w)
	assert.Equal(t, "PREPARING", v.Order.Status)
	assert.Regexp(t, `^ORD-\d{8}-0001$`, v.Order.OrderID)
	require.NotNil(t, v.DispatchTime)
	require.NotNil(t, v.EstimatedDeliveryTime)
	assert.Equal(t, 15*time.Minute, v.EstimatedDeliveryTime.Sub(*v.DispatchTime))
	assert.Equal(t, []string{notify.OrderCreated}, a.rec.Topics(notify.ManagersTopic))

	bad := orderBody()
	bad["totalAmount"] = 20
	w = a.do(http.MethodPost, "/api/orders", bad, m.Token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_input", decode[errorEnvelope](t, w).Error.Kind)

	w = a.do(http.MethodPost, "/api/orders", "not an object", m.Token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeliveryLifecycle(t *testing.T) {
	a := newAPI(t)
	m := a.register("Morgan", "morgan@example.com", "manager")
	p := a.register("Pat Rider", "pat@example.com", "delivery_partner")
	id := a.createOrder(m.Token)

	w := a.do(http.MethodGet, "/api/users/delivery-partners", nil, m.Token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]map[string]any](t, w), 1)

	w = a.do(http.MethodGet, "/api/orders/"+id, nil, p.Token)
	assert.Equal(t, http.StatusForbidden, w.Code, "unbound partner must not read the order")

	w = a.do(http.MethodPut, "/api/orders/"+id+"/assign", map[string]any{"deliveryPartnerId": p.User.ID}, m.Token)
	require.Equal(t, http.StatusConflict, w.Code, "still preparing")
	env := decode[errorEnvelope](t, w)
	assert.Equal(t, "invalid_transition", env.Error.Kind)
	assert.ElementsMatch(t, []string{"READY_FOR_PICKUP", "CANCELLED"}, env.Error.Allowed)

	w = a.do(http.MethodPut, "/api/orders/"+id+"/status", map[string]any{"status": "READY_FOR_PICKUP"}, m.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(http.MethodPut, "/api/orders/"+id+"/assign", map[string]any{"deliveryPartnerId": p.User.ID}, m.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assigned := decode[orderView](t, w)
	assert.Equal(t, "Delivery partner assigned successfully", assigned.Message)
	assert.Equal(t, "ASSIGNED", assigned.Order.Status)
	require.NotNil(t, assigned.Order.DeliveryPartnerID)
	assert.Equal(t, p.User.ID, *assigned.Order.DeliveryPartnerID)

	w = a.do(http.MethodPut, "/api/orders/"+id+"/assign", map[string]any{"deliveryPartnerId": p.User.ID}, m.Token)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_assigned", decode[errorEnvelope](t, w).Error.Kind)

	w = a.do(http.MethodPut, "/api/users/availability", map[string]any{"isAvailable": true}, p.Token)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "has_active_order", decode[errorEnvelope](t, w).Error.Kind)

	w = a.do(http.MethodGet, "/api/orders/partner/assigned", nil, p.Token)
	require.Equal(t, http.StatusOK, w.Code)
	mine := decode[[]map[string]any](t, w)
	require.Len(t, mine, 1)
	assert.Equal(t, id, mine[0]["orderId"])

	w = a.do(http.MethodPut, "/api/orders/"+id+"/status", map[string]any{"status": "READY_FOR_PICKUP"}, p.Token)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(http.MethodPut, "/api/orders/"+id+"/status", map[string]any{"status": "DELIVERED"}, p.Token)
	require.Equal(t, http.StatusConflict, w.Code)
	env = decode[errorEnvelope](t, w)
	assert.Equal(t, "invalid_transition", env.Error.Kind)
	assert.ElementsMatch(t, []string{"PICKED_UP", "CANCELLED"}, env.Error.Allowed)

	for _, step := range []struct {
		token  string
		status string
	}{
		{p.Token, "PICKED_UP"},
		{p.Token, "ON_ROUTE"},
		{p.Token, "DELIVERED"},
	} {
		w = a.do(http.MethodPut, "/api/orders/"+id+"/status", map[string]any{"status": step.status}, step.token)
		require.Equal(t, http.StatusOK, w.Code, "%s: %s", step.status, w.Body.String())
		v := decode[orderView](t, w)
		assert.Equal(t, step.status, v.Order.Status)
		assert.Equal(t, "Order status updated to "+step.status+" successfully", v.Message)
	}

	w = a.do(http.MethodGet, "/api/orders/"+id, nil, p.Token)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[orderView](t, w)
	assert.Equal(t, "DELIVERED", got.Order.Status)
	assert.Nil(t, got.EstimatedDeliveryTime, "no estimate once terminal")

	w = a.do(http.MethodGet, "/api/orders/"+id+"/events", nil, m.Token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]map[string]any](t, w), 6)

	w = a.do(http.MethodPut, "/api/users/availability", map[string]any{"isAvailable": false}, p.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, decode[map[string]any](t, w)["isAvailable"])
}

func TestListOrdersFilter(t *testing.T) {
	a := newAPI(t)
	m := a.register("Morgan", "morgan@example.com", "manager")
	first := a.createOrder(m.Token)
	a.createOrder(m.Token)

	w := a.do(http.MethodPut, "/api/orders/"+first+"/status", map[string]any{"status": "CANCELLED"}, m.Token)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(http.MethodGet, "/api/orders", nil, m.Token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]map[string]any](t, w), 2)

	w = a.do(http.MethodGet, "/api/orders?status=CANCELLED", nil, m.Token)
	require.Equal(t, http.StatusOK, w.Code)
	cancelled := decode[[]map[string]any](t, w)
	require.Len(t, cancelled, 1)
	assert.Equal(t, first, cancelled[0]["orderId"])

	w = a.do(http.MethodGet, "/api/orders?status=LOST", nil, m.Token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdatePrepTime(t *testing.T) {
	a := newAPI(t)
	m := a.register("Morgan", "morgan@example.com", "manager")
	id := a.createOrder(m.Token)

	w := a.do(http.MethodPut, "/api/orders/"+id+"/prep-time", map[string]any{"prepTime": 25}, m.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v := decode[orderView](t, w)
	require.NotNil(t, v.DispatchTime)
	assert.Equal(t, "Order preparation time updated to 25 minutes", v.Message)

	w = a.do(http.MethodPut, "/api/orders/"+id+"/status", map[string]any{"status": "CANCELLED"}, m.Token)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(http.MethodPut, "/api/orders/"+id+"/prep-time", map[string]any{"prepTime": 30}, m.Token)
	require.Equal(t, http.StatusConflict, w.Code)
	env := decode[errorEnvelope](t, w)
	assert.Equal(t, "invalid_state", env.Error.Kind)
	assert.ElementsMatch(t, []string{"PREPARING", "READY_FOR_PICKUP"}, env.Error.Allowed)

	w = a.do(http.MethodPut, "/api/orders/"+id+"/status", map[string]any{"status": "READY_FOR_PICKUP"}, m.Token)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"allowed":[]`, "terminal orders report an empty allowed list")
}

func TestNotFound(t *testing.T) {
	a := newAPI(t)
	m := a.register("Morgan", "morgan@example.com", "manager")

	w := a.do(http.MethodGet, "/api/orders/ORD-20260101-0042", nil, m.Token)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[errorEnvelope](t, w).Error.Kind)

	id := a.createOrder(m.Token)
	w = a.do(http.MethodPut, "/api/orders/"+id+"/assign", map[string]any{"deliveryPartnerId": "missing"}, m.Token)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "partner_not_found", decode[errorEnvelope](t, w).Error.Kind)
}
