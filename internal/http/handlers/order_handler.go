// README: Order handlers for create, reads, assignment, status and prep-time changes.
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/order"
	"dispatch/internal/types"
)

type OrderHandler struct {
	order *order.Service
}

func NewOrderHandler(svc *order.Service) *OrderHandler {
	return &OrderHandler{order: svc}
}

type itemReq struct {
	Name     string          `json:"name" binding:"required"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type createOrderReq struct {
	Items           []itemReq       `json:"items" binding:"required"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	CustomerName    string          `json:"customerName" binding:"required"`
	CustomerAddress string          `json:"customerAddress" binding:"required"`
	CustomerPhone   string          `json:"customerPhone" binding:"required"`
	PrepTime        int             `json:"prepTime" binding:"required"`
	ETA             *int            `json:"eta"`
}

type windowResponse struct {
	Order                 *order.Order `json:"order"`
	DispatchTime          *time.Time   `json:"dispatchTime"`
	EstimatedDeliveryTime *time.Time   `json:"estimatedDeliveryTime"`
	Message               string       `json:"message,omitempty"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if !bindJSON(c, &req) {
		return
	}
	items := make([]order.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, order.Item{Name: it.Name, Quantity: it.Quantity, Price: it.Price})
	}
	o, err := h.order.Create(c.Request.Context(), middleware.CallerPrincipal(c), order.CreateCommand{
		Items:           items,
		TotalAmount:     req.TotalAmount,
		CustomerName:    req.CustomerName,
		CustomerAddress: req.CustomerAddress,
		CustomerPhone:   req.CustomerPhone,
		PrepTime:        req.PrepTime,
		ETA:             req.ETA,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, windowResponse{
		Order:                 o,
		DispatchTime:          o.DispatchTime,
		EstimatedDeliveryTime: o.EstimatedDeliveryTime,
	})
}

func (h *OrderHandler) List(c *gin.Context) {
	orders, err := h.order.List(c.Request.Context(), middleware.CallerPrincipal(c), order.Status(c.Query("status")))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, nonNil(orders))
}

func (h *OrderHandler) Get(c *gin.Context) {
	o, err := h.order.Get(c.Request.Context(), middleware.CallerPrincipal(c), types.ID(c.Param("orderId")))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"order":                 o,
		"estimatedDeliveryTime": o.CurrentEstimate(),
	})
}

func (h *OrderHandler) Events(c *gin.Context) {
	events, err := h.order.Events(c.Request.Context(), middleware.CallerPrincipal(c), types.ID(c.Param("orderId")))
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []*order.Event{}
	}
	writeJSON(c, http.StatusOK, events)
}

type assignReq struct {
	DeliveryPartnerID     string  `json:"deliveryPartnerId" binding:"required"`
	DispatchTime          *string `json:"dispatchTime"`
	EstimatedDeliveryTime *string `json:"estimatedDeliveryTime"`
	ETA                   *int    `json:"eta"`
}

type assignedSummary struct {
	OrderID               types.ID     `json:"orderId"`
	Status                order.Status `json:"status"`
	DeliveryPartnerID     *types.ID    `json:"deliveryPartnerId"`
	DispatchTime          *time.Time   `json:"dispatchTime"`
	EstimatedDeliveryTime *time.Time   `json:"estimatedDeliveryTime"`
}

func (h *OrderHandler) Assign(c *gin.Context) {
	var req assignReq
	if !bindJSON(c, &req) {
		return
	}
	o, err := h.order.Assign(c.Request.Context(), middleware.CallerPrincipal(c), order.AssignCommand{
		OrderID:               types.ID(c.Param("orderId")),
		PartnerID:             types.ID(req.DeliveryPartnerID),
		DispatchTime:          req.DispatchTime,
		EstimatedDeliveryTime: req.EstimatedDeliveryTime,
		ETA:                   req.ETA,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"message": "Delivery partner assigned successfully",
		"order": assignedSummary{
			OrderID:               o.ID,
			Status:                o.Status,
			DeliveryPartnerID:     o.DeliveryPartnerID,
			DispatchTime:          o.DispatchTime,
			EstimatedDeliveryTime: o.EstimatedDeliveryTime,
		},
	})
}

type statusReq struct {
	Status string `json:"status" binding:"required"`
}

func (h *OrderHandler) SetStatus(c *gin.Context) {
	var req statusReq
	if !bindJSON(c, &req) {
		return
	}
	o, err := h.order.SetStatus(c.Request.Context(), middleware.CallerPrincipal(c), order.SetStatusCommand{
		OrderID: types.ID(c.Param("orderId")),
		Status:  order.Status(req.Status),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"order":   o,
		"message": fmt.Sprintf("Order status updated to %s successfully", o.Status),
	})
}

type prepTimeReq struct {
	PrepTime int `json:"prepTime" binding:"required"`
}

func (h *OrderHandler) UpdatePrepTime(c *gin.Context) {
	var req prepTimeReq
	if !bindJSON(c, &req) {
		return
	}
	o, err := h.order.UpdatePrepTime(c.Request.Context(), middleware.CallerPrincipal(c), order.UpdatePrepTimeCommand{
		OrderID:  types.ID(c.Param("orderId")),
		PrepTime: req.PrepTime,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, windowResponse{
		Order:                 o,
		DispatchTime:          o.DispatchTime,
		EstimatedDeliveryTime: o.EstimatedDeliveryTime,
		Message:               fmt.Sprintf("Order preparation time updated to %d minutes", o.PrepTime),
	})
}

func (h *OrderHandler) Assigned(c *gin.Context) {
	orders, err := h.order.ListAssigned(c.Request.Context(), middleware.CallerPrincipal(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, nonNil(orders))
}

func nonNil(orders []*order.Order) []*order.Order {
	if orders == nil {
		return []*order.Order{}
	}
	return orders
}
