// Package server exposes the billing engine over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/leaseworks/leaseworks/internal/audit"
	auditdomain "github.com/leaseworks/leaseworks/internal/audit/domain"
	"github.com/leaseworks/leaseworks/internal/config"
	"github.com/leaseworks/leaseworks/internal/invoice"
	invoicedomain "github.com/leaseworks/leaseworks/internal/invoice/domain"
	"github.com/leaseworks/leaseworks/internal/observability"
	obsmiddleware "github.com/leaseworks/leaseworks/internal/observability/logger"
	obsmetrics "github.com/leaseworks/leaseworks/internal/observability/metrics"
	obstracing "github.com/leaseworks/leaseworks/internal/observability/tracing"
	"github.com/leaseworks/leaseworks/internal/payment"
	paymentdomain "github.com/leaseworks/leaseworks/internal/payment/domain"
	"github.com/leaseworks/leaseworks/internal/recurring"
	recurringdomain "github.com/leaseworks/leaseworks/internal/recurring/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	invoice.Module,
	recurring.Module,
	payment.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	genID        *snowflake.Node
	auditSvc     auditdomain.Service
	invoiceSvc   invoicedomain.Service
	recurringSvc recurringdomain.Service
	paymentSvc   paymentdomain.Service
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	GenID        *snowflake.Node
	AuditSvc     auditdomain.Service
	InvoiceSvc   invoicedomain.Service
	RecurringSvc recurringdomain.Service
	PaymentSvc   paymentdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		genID:        p.GenID,
		auditSvc:     p.AuditSvc,
		invoiceSvc:   p.InvoiceSvc,
		recurringSvc: p.RecurringSvc,
		paymentSvc:   p.PaymentSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.IdentityFromHeaders())

	// -------- Invoices --------
	api.GET("/invoices", s.ListInvoices)
	api.POST("/invoices", s.RequireLandlord(), s.CreateInvoice)
	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.POST("/invoices/:id/issue", s.RequireLandlord(), s.IssueInvoice)
	api.POST("/invoices/:id/void", s.RequireLandlord(), s.VoidInvoice)
	api.POST("/invoices/:id/reconcile", s.RequireLandlord(), s.ReconcileInvoice)
	api.DELETE("/invoices/:id", s.RequireLandlord(), s.DeleteInvoice)

	// -------- Recurring schedules --------
	api.GET("/recurring-invoices", s.RequireLandlord(), s.ListRecurringInvoices)
	api.POST("/recurring-invoices", s.RequireLandlord(), s.CreateRecurringInvoice)
	api.GET("/recurring-invoices/:id", s.RequireLandlord(), s.GetRecurringInvoiceByID)
	api.PATCH("/recurring-invoices/:id", s.RequireLandlord(), s.UpdateRecurringInvoice)
	api.POST("/recurring-invoices/:id/activate", s.RequireLandlord(), s.ActivateRecurringInvoice)
	api.POST("/recurring-invoices/:id/deactivate", s.RequireLandlord(), s.DeactivateRecurringInvoice)
	api.DELETE("/recurring-invoices/:id", s.RequireLandlord(), s.DeleteRecurringInvoice)
	api.POST("/recurring-invoices/run", s.RequireLandlord(), s.RunRecurringGeneration)

	// -------- Payments --------
	api.GET("/payments/:id", s.GetPaymentByID)
	api.GET("/me/payments", s.RequireTenant(), s.ListMyPayments)
	api.POST("/payments/:id/mark-paid", s.RequireTenant(), s.MarkPaymentPaid)
	api.POST("/payments/:id/confirm", s.RequireLandlord(), s.ConfirmPayment)
	api.POST("/payments/:id/extension", s.RequireTenant(), s.RequestExtension)
	api.DELETE("/payments/:id/extension", s.RequireTenant(), s.CancelExtension)
	api.POST("/payments/:id/extension/approve", s.RequireLandlord(), s.ApproveExtension)
	api.POST("/payments/:id/extension/reject", s.RequireLandlord(), s.RejectExtension)

	// -------- Audit logs --------
	api.GET("/audit-logs", s.RequireLandlord(), s.ListAuditLogs)
}
