package router

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.uber.org/zap"

	"taskflow/internal/handler"
	"taskflow/internal/model"
	"taskflow/internal/service"
)

// Handlers groups the HTTP handlers served under /api.
type Handlers struct {
	Auth        *handler.AuthHandler
	Campaigns   *handler.CampaignHandler
	Submissions *handler.SubmissionHandler
	Ledger      *handler.LedgerHandler
	Users       *handler.UserHandler
}

// Register wires routes and middleware.
func Register(
	e *echo.Echo,
	log *zap.Logger,
	gatherer prometheus.Gatherer,
	authService service.AuthService,
	h Handlers,
) {
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			if v.Status >= http.StatusInternalServerError {
				log.Error("request", fields...)
			} else {
				log.Info("request", fields...)
			}
			return nil
		},
	}))
	e.Use(middleware.Recover())

	// Add validator
	e.Validator = &CustomValidator{validator: validator.New()}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	api := e.Group("/api")

	// Public routes
	api.POST("/auth/register", h.Auth.Register)
	api.POST("/auth/login", h.Auth.Login)
	api.POST("/auth/refresh", h.Auth.Refresh)
	api.POST("/auth/logout", h.Auth.Logout)

	// Secured routes (require a live session)
	secured := api.Group("", handler.Authenticate(authService))

	anyone := handler.RequireRoles(model.RoleAdmin, model.RoleEmployer, model.RoleWorker)
	admin := handler.RequireRoles(model.RoleAdmin)
	employer := handler.RequireRoles(model.RoleEmployer)
	worker := handler.RequireRoles(model.RoleWorker)
	manager := handler.RequireRoles(model.RoleEmployer, model.RoleAdmin)
	payee := handler.RequireRoles(model.RoleWorker, model.RoleEmployer)

	secured.GET("/me", h.Auth.Me, anyone)
	secured.DELETE("/me", h.Auth.DeleteMe, anyone)

	// Campaign routes
	secured.GET("/campaigns", h.Campaigns.List, anyone)
	secured.GET("/campaigns/:id", h.Campaigns.Get, anyone)
	secured.POST("/campaigns", h.Campaigns.Create, employer)
	secured.GET("/employer/campaigns", h.Campaigns.ListOwn, employer)
	secured.POST("/campaigns/:id/publish", h.Campaigns.Publish, manager)
	secured.POST("/campaigns/:id/pause", h.Campaigns.Pause, manager)
	secured.POST("/campaigns/:id/resume", h.Campaigns.Resume, manager)
	secured.POST("/campaigns/:id/cancel", h.Campaigns.Cancel, manager)
	secured.POST("/campaigns/:id/claim", h.Campaigns.Claim, worker)
	secured.GET("/campaigns/:id/submissions", h.Campaigns.Submissions, manager)

	// Submission routes
	secured.GET("/submissions", h.Submissions.ListMine, worker)
	secured.GET("/submissions/:id", h.Submissions.Get, anyone)
	secured.POST("/submissions/:id/proof", h.Submissions.SubmitProof, worker)
	secured.POST("/submissions/:id/resolve", h.Submissions.Resolve, manager)

	// Ledger routes
	secured.GET("/ledger/balance", h.Ledger.Balance, anyone)
	secured.GET("/ledger/entries", h.Ledger.Entries, anyone)
	secured.POST("/ledger/withdrawals", h.Ledger.Withdraw, payee)

	// Admin routes
	adm := secured.Group("/admin", admin)
	adm.GET("/users", h.Users.ListUsers)
	adm.DELETE("/users/:id", h.Users.DeleteUser)
	adm.GET("/campaigns", h.Campaigns.ListAll)
	adm.GET("/ledger/pending", h.Ledger.ListPending)
	adm.POST("/ledger/deposits", h.Ledger.Deposit)
	adm.POST("/ledger/:id/settle", h.Ledger.Settle)
	adm.POST("/ledger/:id/fail", h.Ledger.Fail)
	adm.GET("/incidents", h.Users.ListIncidents)
	adm.POST("/incidents/:id/resolve", h.Users.ResolveIncident)
	adm.POST("/sweep", h.Users.Sweep)
}

// CustomValidator wraps validator for Echo.
type CustomValidator struct {
	validator *validator.Validate
}

// Validate implements echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}
