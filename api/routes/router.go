package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/threadline/shopfront-backend/api/controllers"
	notificationcontrollers "github.com/threadline/shopfront-backend/api/controllers/notifications"
	ordercontrollers "github.com/threadline/shopfront-backend/api/controllers/orders"
	intentcontrollers "github.com/threadline/shopfront-backend/api/controllers/paymentintents"
	paymentcontrollers "github.com/threadline/shopfront-backend/api/controllers/payments"
	vouchercontrollers "github.com/threadline/shopfront-backend/api/controllers/vouchers"
	"github.com/threadline/shopfront-backend/api/middleware"
	"github.com/threadline/shopfront-backend/internal/notifications"
	"github.com/threadline/shopfront-backend/internal/orders"
	"github.com/threadline/shopfront-backend/internal/paymentintents"
	"github.com/threadline/shopfront-backend/internal/payments"
	"github.com/threadline/shopfront-backend/internal/vouchers"
	"github.com/threadline/shopfront-backend/pkg/config"
	"github.com/threadline/shopfront-backend/pkg/enums"
	"github.com/threadline/shopfront-backend/pkg/logger"
	pkgredis "github.com/threadline/shopfront-backend/pkg/redis"
)

// RedisStore is the redis surface the HTTP layer needs.
type RedisStore interface {
	pkgredis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Ping(ctx context.Context) error
}

// Dependencies groups everything the router mounts.
type Dependencies struct {
	DB            controllers.Pinger
	Redis         RedisStore
	Gatherer      prometheus.Gatherer
	Orders        orders.Service
	Intents       paymentintents.Service
	Payments      payments.Service
	Reconciler    paymentcontrollers.Reconciler
	Vouchers      vouchers.Service
	Notifications notifications.Service
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.CORS(cfg.App.CORSOrigins),
		middleware.Logging(logg),
	)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(map[string]controllers.Pinger{
			"postgres": deps.DB,
			"redis":    deps.Redis,
		}, logg))
	})

	checkoutPolicy := middleware.NewRateLimitPolicy(
		"checkout",
		cfg.Checkout.RateLimitWindow,
		cfg.Checkout.RateLimitRequests,
	)
	checkoutLimit := middleware.RateLimit(checkoutPolicy, deps.Redis, logg)

	r.Route("/api/v1", func(r chi.Router) {
		// gateway redirects and notifications carry no bearer token
		r.Get("/payment/vnpay/callback", paymentcontrollers.VNPayCallback(deps.Reconciler, cfg.VNPay.AppDeepLink, logg))
		r.Get("/payment/vnpay/ipn", paymentcontrollers.VNPayIPN(deps.Reconciler, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.Idempotency(deps.Redis, logg))

			r.Route("/orders", func(r chi.Router) {
				r.With(checkoutLimit).Post("/", ordercontrollers.Create(deps.Orders, logg))
				r.Get("/", ordercontrollers.List(deps.Orders, logg))
				r.Post("/create-from-intent", ordercontrollers.CreateFromIntent(deps.Orders, logg))
				r.Put("/{orderId}/cancel", ordercontrollers.Cancel(deps.Orders, logg))
				r.With(middleware.RequireRole(enums.RoleAdmin, logg)).Put("/{orderId}/status", ordercontrollers.UpdateStatus(deps.Orders, logg))
			})

			r.Route("/payment", func(r chi.Router) {
				r.With(checkoutLimit).Post("/intent/create", intentcontrollers.Create(deps.Intents, logg))
				r.Get("/intent/{intentId}", intentcontrollers.Get(deps.Intents, logg))
				r.Put("/intent/{intentId}/cancel", intentcontrollers.Cancel(deps.Intents, logg))
				r.Post("/vnpay/create", paymentcontrollers.VNPayCreate(deps.Payments, logg))
			})

			r.Route("/vouchers", func(r chi.Router) {
				r.Get("/", vouchercontrollers.List(deps.Vouchers, logg))
				r.Post("/apply", vouchercontrollers.Apply(deps.Vouchers, logg))
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(enums.RoleAdmin, logg))
					r.Post("/", vouchercontrollers.Create(deps.Vouchers, logg))
					r.Put("/{voucherId}", vouchercontrollers.Update(deps.Vouchers, logg))
					r.Delete("/{voucherId}", vouchercontrollers.Delete(deps.Vouchers, logg))
				})
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", notificationcontrollers.List(deps.Notifications, logg))
				r.Post("/read-all", notificationcontrollers.MarkAllRead(deps.Notifications, logg))
				r.Post("/{notificationId}/read", notificationcontrollers.MarkRead(deps.Notifications, logg))
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(enums.RoleAdmin, logg))
				r.Get("/orders", ordercontrollers.AdminList(deps.Orders, logg))
			})
		})
	})

	return r
}
