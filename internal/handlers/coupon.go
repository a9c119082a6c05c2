package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/bookstore/internal/models"
	"github.com/example/bookstore/internal/utils"
)

// CouponHandler manages discount coupons.
type CouponHandler struct {
	db *gorm.DB
}

// NewCouponHandler constructs CouponHandler.
func NewCouponHandler(db *gorm.DB) *CouponHandler {
	return &CouponHandler{db: db}
}

type couponRequest struct {
	Code          string     `json:"code"`
	DiscountType  string     `json:"discount_type"`
	DiscountValue *float64   `json:"discount_value"`
	ValidFrom     *time.Time `json:"valid_from"`
	ValidUntil    *time.Time `json:"valid_until"`
	IsActive      *bool      `json:"is_active"`
}

func (h *CouponHandler) ListCoupons(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.WithContext(c.UserContext()).Model(&models.Coupon{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var items []models.Coupon
	if err := query.Order("created_at desc").Limit(pg.Limit).Offset(pg.Offset).Find(&items).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": items, "pagination": pg.Meta(total)})
}

func (h *CouponHandler) CreateCoupon(c *fiber.Ctx) error {
	var req couponRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Code) == "" || req.DiscountValue == nil {
		return fiber.NewError(fiber.StatusBadRequest, "code and discount_value are required")
	}

	item := models.Coupon{IsActive: true}
	if err := applyCouponRequest(&item, req); err != nil {
		return err
	}

	if err := h.db.WithContext(c.UserContext()).Create(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fiber.NewError(fiber.StatusConflict, "coupon code already exists")
		}
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": item})
}

func (h *CouponHandler) UpdateCoupon(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var item models.Coupon
	if err := h.db.WithContext(c.UserContext()).First(&item, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "coupon not found")
		}
		return err
	}

	var req couponRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := applyCouponRequest(&item, req); err != nil {
		return err
	}

	item.ID = id
	if err := h.db.WithContext(c.UserContext()).Save(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fiber.NewError(fiber.StatusConflict, "coupon code already exists")
		}
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": item})
}

func (h *CouponHandler) DeleteCoupon(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	if err := h.db.WithContext(c.UserContext()).Delete(&models.Coupon{}, "id = ?", id).Error; err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func applyCouponRequest(item *models.Coupon, req couponRequest) error {
	if v := strings.TrimSpace(req.Code); v != "" {
		item.Code = v
	}
	if req.DiscountType != "" {
		item.DiscountType = req.DiscountType
	}
	if item.DiscountType == "" {
		item.DiscountType = models.CouponPercentage
	}
	if req.DiscountValue != nil {
		item.DiscountValue = *req.DiscountValue
	}
	if req.ValidFrom != nil {
		item.ValidFrom = *req.ValidFrom
	}
	if req.ValidUntil != nil {
		item.ValidUntil = *req.ValidUntil
	}
	if req.IsActive != nil {
		item.IsActive = *req.IsActive
	}

	switch {
	case item.DiscountType != models.CouponPercentage && item.DiscountType != models.CouponFixedAmount:
		return fiber.NewError(fiber.StatusBadRequest, "discount_type must be percentage or fixed_amount")
	case item.DiscountValue <= 0:
		return fiber.NewError(fiber.StatusBadRequest, "discount_value must be positive")
	case item.DiscountType == models.CouponPercentage && item.DiscountValue > 100:
		return fiber.NewError(fiber.StatusBadRequest, "percentage must not exceed 100")
	case !item.ValidFrom.IsZero() && !item.ValidUntil.IsZero() && item.ValidUntil.Before(item.ValidFrom):
		return fiber.NewError(fiber.StatusBadRequest, "valid_until is before valid_from")
	}
	return nil
}
