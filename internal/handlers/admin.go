package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/bookstore/internal/models"
)

const lowStockThreshold = 5

// AdminHandler manages admin-only endpoints.
type AdminHandler struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(db *gorm.DB) *AdminHandler {
	return &AdminHandler{db: db, now: time.Now}
}

// DashboardStats returns aggregate statistics for the admin dashboard.
func (h *AdminHandler) DashboardStats(c *fiber.Ctx) error {
	db := h.db.WithContext(c.UserContext())

	var totalOrders int64
	if err := db.Model(&models.Order{}).Count(&totalOrders).Error; err != nil {
		return err
	}

	type statusCount struct {
		Status string
		Count  int64
	}

	var orderCounts []statusCount
	if err := db.Model(&models.Order{}).
		Select("order_status as status, count(*) as count").
		Group("order_status").
		Scan(&orderCounts).Error; err != nil {
		return err
	}
	ordersByStatus := make(map[string]int64, len(orderCounts))
	for _, sc := range orderCounts {
		ordersByStatus[sc.Status] = sc.Count
	}

	var paymentCounts []statusCount
	if err := db.Model(&models.Order{}).
		Select("payment_status as status, count(*) as count").
		Group("payment_status").
		Scan(&paymentCounts).Error; err != nil {
		return err
	}
	ordersByPayment := make(map[string]int64, len(paymentCounts))
	for _, sc := range paymentCounts {
		ordersByPayment[sc.Status] = sc.Count
	}

	// Revenue counts only settled online payments.
	var totalRevenue float64
	if err := db.Model(&models.Order{}).
		Where("payment_status = ?", models.PaymentPaid).
		Select("COALESCE(SUM(total_cost), 0)").
		Scan(&totalRevenue).Error; err != nil {
		return err
	}

	now := h.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var todayRevenue float64
	if err := db.Model(&models.Order{}).
		Where("payment_status = ? AND paid_at >= ?", models.PaymentPaid, startOfDay).
		Select("COALESCE(SUM(total_cost), 0)").
		Scan(&todayRevenue).Error; err != nil {
		return err
	}

	var lowStock int64
	if err := db.Model(&models.Product{}).
		Where("is_active = ? AND stock <= ?", true, lowStockThreshold).
		Count(&lowStock).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"total_orders":       totalOrders,
			"total_revenue":      totalRevenue,
			"today_revenue":      todayRevenue,
			"orders_by_status":   ordersByStatus,
			"orders_by_payment":  ordersByPayment,
			"low_stock_products": lowStock,
		},
	})
}

// RecentOrders returns the most recent 5 orders for the dashboard.
func (h *AdminHandler) RecentOrders(c *fiber.Ctx) error {
	var orders []models.Order
	if err := h.db.WithContext(c.UserContext()).Preload("Items").
		Order("created_at desc").
		Limit(5).
		Find(&orders).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    orders,
	})
}
