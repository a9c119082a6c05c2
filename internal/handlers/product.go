package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/bookstore/internal/models"
	"github.com/example/bookstore/internal/services"
	"github.com/example/bookstore/internal/utils"
)

// ProductHandler manages the book inventory.
type ProductHandler struct {
	db *gorm.DB
}

// NewProductHandler constructs ProductHandler.
func NewProductHandler(db *gorm.DB) *ProductHandler {
	return &ProductHandler{db: db}
}

// productView adds the price a buyer would pay today.
type productView struct {
	models.Product
	EffectivePrice float64 `json:"effective_price"`
}

func viewOf(p models.Product) productView {
	unit := services.EffectiveUnitPrice(p.Price, p.SalePrice, p.DiscountType, p.DiscountValue)
	return productView{Product: p, EffectivePrice: unit.InexactFloat64()}
}

// ListProducts returns paginated active books. Admins may pass all=true.
func (h *ProductHandler) ListProducts(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.WithContext(c.UserContext()).Model(&models.Product{})

	if c.Query("all") != "true" {
		query = query.Where("is_active = ?", true)
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		q := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(author) LIKE ? OR isbn = ?", q, q, search)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var products []models.Product
	if err := query.Limit(pg.Limit).Offset(pg.Offset).
		Order("created_at desc").
		Find(&products).Error; err != nil {
		return err
	}

	views := make([]productView, 0, len(products))
	for _, p := range products {
		views = append(views, viewOf(p))
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       views,
		"pagination": pg.Meta(total),
	})
}

// GetProduct loads a single book.
func (h *ProductHandler) GetProduct(c *fiber.Ctx) error {
	product, err := h.find(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": viewOf(*product)})
}

type productRequest struct {
	Title         string   `json:"title"`
	ISBN          string   `json:"isbn"`
	Author        string   `json:"author"`
	Format        string   `json:"format"`
	Price         *float64 `json:"price"`
	SalePrice     *float64 `json:"sale_price"`
	DiscountType  *string  `json:"discount_type"`
	DiscountValue *float64 `json:"discount_value"`
	Stock         *int     `json:"stock"`
	IsActive      *bool    `json:"is_active"`
	FreeShipping  *bool    `json:"free_shipping"`
}

// CreateProduct adds a book with its opening stock.
func (h *ProductHandler) CreateProduct(c *fiber.Ctx) error {
	var req productRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Title) == "" || req.Price == nil {
		return fiber.NewError(fiber.StatusBadRequest, "title and price are required")
	}

	product := models.Product{
		DiscountType: models.DiscountNone,
		IsActive:     true,
	}
	if req.Stock != nil {
		product.Stock = *req.Stock
	}
	if err := applyProductRequest(&product, req); err != nil {
		return err
	}
	if product.Stock < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "stock must not be negative")
	}

	if err := h.db.WithContext(c.UserContext()).Create(&product).Error; err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": viewOf(product)})
}

// UpdateProduct changes catalog and pricing fields. Stock only moves through
// orders, cancellations and ReceiveStock.
func (h *ProductHandler) UpdateProduct(c *fiber.Ctx) error {
	product, err := h.find(c)
	if err != nil {
		return err
	}

	var req productRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Stock != nil {
		return fiber.NewError(fiber.StatusBadRequest, "stock cannot be set directly; use the stock endpoint")
	}
	if err := applyProductRequest(product, req); err != nil {
		return err
	}

	if err := h.db.WithContext(c.UserContext()).Model(product).
		Select("Title", "ISBN", "Author", "Format", "Price", "SalePrice", "DiscountType", "DiscountValue", "IsActive", "FreeShipping").
		Updates(product).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": viewOf(*product)})
}

type receiveStockRequest struct {
	Quantity int `json:"quantity"`
}

// ReceiveStock adds delivered copies to a book's stock.
func (h *ProductHandler) ReceiveStock(c *fiber.Ctx) error {
	product, err := h.find(c)
	if err != nil {
		return err
	}

	var req receiveStockRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Quantity < 1 {
		return fiber.NewError(fiber.StatusBadRequest, "quantity must be at least 1")
	}

	db := h.db.WithContext(c.UserContext())
	if err := db.Model(&models.Product{}).
		Where("id = ?", product.ID).
		Update("stock", gorm.Expr("stock + ?", req.Quantity)).Error; err != nil {
		return err
	}
	if err := db.First(product, "id = ?", product.ID).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": viewOf(*product)})
}

// DeleteProduct deactivates a book so past orders keep their reference.
func (h *ProductHandler) DeleteProduct(c *fiber.Ctx) error {
	product, err := h.find(c)
	if err != nil {
		return err
	}
	if err := h.db.WithContext(c.UserContext()).Model(product).Update("is_active", false).Error; err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ProductHandler) find(c *fiber.Ctx) (*models.Product, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var product models.Product
	if err := h.db.WithContext(c.UserContext()).First(&product, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "product not found")
		}
		return nil, err
	}
	return &product, nil
}

func applyProductRequest(p *models.Product, req productRequest) error {
	if v := strings.TrimSpace(req.Title); v != "" {
		p.Title = v
	}
	if v := strings.TrimSpace(req.ISBN); v != "" {
		p.ISBN = v
	}
	if v := strings.TrimSpace(req.Author); v != "" {
		p.Author = v
	}
	if v := strings.TrimSpace(req.Format); v != "" {
		p.Format = v
	}
	if req.Price != nil {
		p.Price = *req.Price
	}
	if req.SalePrice != nil {
		p.SalePrice = *req.SalePrice
	}
	if req.DiscountType != nil {
		p.DiscountType = *req.DiscountType
	}
	if req.DiscountValue != nil {
		p.DiscountValue = *req.DiscountValue
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	if req.FreeShipping != nil {
		p.FreeShipping = *req.FreeShipping
	}

	switch {
	case p.Price < 0 || p.SalePrice < 0 || p.DiscountValue < 0:
		return fiber.NewError(fiber.StatusBadRequest, "prices must not be negative")
	case p.DiscountType != models.DiscountNone && p.DiscountType != models.DiscountPercent && p.DiscountType != models.DiscountAmount:
		return fiber.NewError(fiber.StatusBadRequest, "discount_type must be none, percent or amount")
	case p.DiscountType == models.DiscountPercent && p.DiscountValue > 100:
		return fiber.NewError(fiber.StatusBadRequest, "percent discount must not exceed 100")
	}
	return nil
}
