package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/bookstore/internal/middleware"
	"github.com/example/bookstore/internal/models"
	"github.com/example/bookstore/internal/services"
	"github.com/example/bookstore/internal/utils"
)

// OrderHandler manages order endpoints.
type OrderHandler struct {
	orders *services.OrderService
}

// NewOrderHandler constructs OrderHandler.
func NewOrderHandler(orders *services.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

type locationRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (l locationRequest) model() models.Location {
	return models.Location{ID: strings.TrimSpace(l.ID), Name: strings.TrimSpace(l.Name)}
}

type orderProductRequest struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
}

type createOrderRequest struct {
	CustomerName   string                `json:"customerName"`
	CustomerPhone  string                `json:"customerPhone"`
	CustomerEmail  string                `json:"customerEmail"`
	StreetAddress  string                `json:"streetAddress"`
	City           locationRequest       `json:"city"`
	Zone           locationRequest       `json:"zone"`
	Area           locationRequest       `json:"area"`
	Notes          string                `json:"notes"`
	DeliveryType   string                `json:"deliveryType"`
	PaymentMethod  string                `json:"paymentMethod"`
	Products       []orderProductRequest `json:"products"`
	Coupon         string                `json:"coupon"`
	ShippingCost   *float64              `json:"shippingCost"`
	IdempotencyKey string                `json:"idempotencyKey"`
}

// CreateOrder places an order for a guest or a signed-in customer.
func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	var req createOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	in := services.CreateOrderInput{
		IdempotencyKey: req.IdempotencyKey,
		CustomerName:   req.CustomerName,
		CustomerPhone:  req.CustomerPhone,
		CustomerEmail:  req.CustomerEmail,
		StreetAddress:  strings.TrimSpace(req.StreetAddress),
		City:           req.City.model(),
		Zone:           req.Zone.model(),
		Area:           req.Area.model(),
		Notes:          strings.TrimSpace(req.Notes),
		DeliveryType:   models.DeliveryType(req.DeliveryType),
		PaymentMethod:  models.PaymentMethod(req.PaymentMethod),
		CouponCode:     req.Coupon,
		ShippingCost:   req.ShippingCost,
	}
	if key := c.Get("Idempotency-Key"); key != "" {
		in.IdempotencyKey = key
	}
	if userID, ok := middleware.GetCurrentUserID(c); ok {
		in.UserID = &userID
	}
	for _, p := range req.Products {
		in.Products = append(in.Products, services.LineRequest{ProductID: p.Product, Quantity: p.Quantity})
	}

	order, created, err := h.orders.CreateOrder(c.UserContext(), in)
	if err != nil {
		return err
	}

	status := fiber.StatusCreated
	if !created {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{"success": true, "data": order})
}

// GetOrder returns a single order by id.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	order, err := h.orders.GetOrder(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": order})
}

// GetOrderByNumber returns a single order by its order number.
func (h *OrderHandler) GetOrderByNumber(c *fiber.Ctx) error {
	order, err := h.orders.GetOrderByNumber(c.UserContext(), c.Params("orderNumber"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": order})
}

// ListOrders returns a page of orders, optionally filtered by status.
func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	filter := services.OrderFilter{
		OrderStatus:   models.OrderStatus(c.Query("status")),
		PaymentStatus: models.PaymentStatus(c.Query("paymentStatus")),
		Limit:         pg.Limit,
		Offset:        pg.Offset,
	}

	orders, total, err := h.orders.ListOrders(c.UserContext(), filter)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       orders,
		"pagination": pg.Meta(total),
	})
}

type updateStatusRequest struct {
	OrderStatus string `json:"orderStatus"`
}

// UpdateStatus moves an order to the requested fulfilment status.
func (h *OrderHandler) UpdateStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var req updateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.OrderStatus == "" {
		return fiber.NewError(fiber.StatusBadRequest, "orderStatus is required")
	}

	order, err := h.orders.UpdateStatus(c.UserContext(), id, models.OrderStatus(req.OrderStatus))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": order})
}

// CancelOrder cancels an order and restocks its items.
func (h *OrderHandler) CancelOrder(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	order, err := h.orders.CancelOrder(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": order})
}

// DeleteOrder removes an order.
func (h *OrderHandler) DeleteOrder(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	if err := h.orders.DeleteOrder(c.UserContext(), id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "order deleted"})
}
