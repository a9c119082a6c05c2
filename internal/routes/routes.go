package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/example/bookstore/internal/config"
	"github.com/example/bookstore/internal/handlers"
	"github.com/example/bookstore/internal/middleware"
	"github.com/example/bookstore/internal/services"
	"github.com/example/bookstore/internal/utils"
)

// Dependencies are the services the HTTP layer calls into.
type Dependencies struct {
	DB       *gorm.DB
	Orders   *services.OrderService
	Payments *services.PaymentService
	// Verifier authenticates IPN calls; nil rejects every notification.
	Verifier middleware.SignatureVerifier
	Log      zerolog.Logger
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, cfg *config.Config, deps Dependencies) {
	orderHandler := handlers.NewOrderHandler(deps.Orders)
	paymentHandler := handlers.NewPaymentHandler(deps.Payments, cfg.FrontendURL, deps.Log)
	productHandler := handlers.NewProductHandler(deps.DB)
	couponHandler := handlers.NewCouponHandler(deps.DB)
	adminHandler := handlers.NewAdminHandler(deps.DB)

	admin := func(h fiber.Handler) []fiber.Handler {
		return []fiber.Handler{
			middleware.AuthMiddleware(cfg.JWTSecret),
			middleware.RequireRole(utils.RoleAdmin),
			h,
		}
	}

	api := app.Group("/api")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true, "status": "ok"})
	})

	// Books
	products := api.Group("/products")
	products.Get("/", productHandler.ListProducts)
	products.Get("/:id", productHandler.GetProduct)
	products.Post("/", admin(productHandler.CreateProduct)...)
	products.Put("/:id", admin(productHandler.UpdateProduct)...)
	products.Post("/:id/stock", admin(productHandler.ReceiveStock)...)
	products.Delete("/:id", admin(productHandler.DeleteProduct)...)

	// Coupons
	coupons := api.Group("/coupons")
	coupons.Get("/", admin(couponHandler.ListCoupons)...)
	coupons.Post("/", admin(couponHandler.CreateCoupon)...)
	coupons.Put("/:id", admin(couponHandler.UpdateCoupon)...)
	coupons.Delete("/:id", admin(couponHandler.DeleteCoupon)...)

	// Admin dashboard
	adminGroup := api.Group("/admin")
	adminGroup.Get("/stats", admin(adminHandler.DashboardStats)...)
	adminGroup.Get("/recent-orders", admin(adminHandler.RecentOrders)...)

	// Orders
	orders := api.Group("/orders")
	orders.Post("/", middleware.OptionalAuth(cfg.JWTSecret), orderHandler.CreateOrder)
	orders.Get("/", admin(orderHandler.ListOrders)...)
	orders.Get("/number/:orderNumber", admin(orderHandler.GetOrderByNumber)...)
	orders.Get("/:id", orderHandler.GetOrder)
	orders.Patch("/:id/status", admin(orderHandler.UpdateStatus)...)
	orders.Post("/:id/cancel", admin(orderHandler.CancelOrder)...)
	orders.Delete("/:id", admin(orderHandler.DeleteOrder)...)

	// SSLCommerz payment routes
	payment := api.Group("/payment")
	payment.Post("/initiate", paymentHandler.Initiate)
	payment.All("/success", paymentHandler.Success)
	payment.All("/fail", paymentHandler.Fail)
	payment.All("/cancel", paymentHandler.Cancel)
	payment.Post("/ipn", middleware.SSLCommerzSignature(deps.Verifier), paymentHandler.IPN)
}
