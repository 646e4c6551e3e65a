package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	applicationdomain "github.com/shirikacare/portal/internal/application/domain"
	auditdomain "github.com/shirikacare/portal/internal/audit/domain"
	authdomain "github.com/shirikacare/portal/internal/auth/domain"
	"github.com/shirikacare/portal/internal/auth/session"
	"github.com/shirikacare/portal/internal/authorization"
	"github.com/shirikacare/portal/internal/config"
	memberdomain "github.com/shirikacare/portal/internal/member/domain"
	"github.com/shirikacare/portal/internal/observability"
	obslogger "github.com/shirikacare/portal/internal/observability/logger"
	obsmetrics "github.com/shirikacare/portal/internal/observability/metrics"
	obstracing "github.com/shirikacare/portal/internal/observability/tracing"
	paymentdomain "github.com/shirikacare/portal/internal/payment/domain"
	"github.com/shirikacare/portal/internal/providers/email"
	"github.com/shirikacare/portal/internal/providers/pdf"
	"github.com/shirikacare/portal/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger, registry *prometheus.Registry, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if obsCfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))
	r.Use(obstracing.GinMiddleware(obsCfg.ServiceName))
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger, registry *prometheus.Registry) (*gin.Engine, error) {
	httpMetrics, err := obsmetrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, err
	}
	return NewEngine(obsCfg, log, registry, httpMetrics), nil
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.ListenAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	authSvc        authdomain.Service
	sessions       *session.Manager
	authzSvc       authorization.Service
	auditSvc       auditdomain.Service
	applicationSvc applicationdomain.Service
	memberSvc      memberdomain.Service
	paymentSvc     paymentdomain.Service
	emailProvider  email.Provider
	pdfProvider    pdf.Provider
	limiter        *ratelimit.RequestLimiter
	obsMetrics     *obsmetrics.Metrics
	gateway        *config.GatewayConfigHolder
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	AuthSvc        authdomain.Service
	Sessions       *session.Manager
	AuthzSvc       authorization.Service
	AuditSvc       auditdomain.Service
	ApplicationSvc applicationdomain.Service
	MemberSvc      memberdomain.Service
	PaymentSvc     paymentdomain.Service
	EmailProvider  email.Provider
	PDFProvider    pdf.Provider
	Limiter        *ratelimit.RequestLimiter `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics       `optional:"true"`
	Gateway        *config.GatewayConfigHolder
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		log:            p.Log.Named("server"),
		genID:          p.GenID,
		authSvc:        p.AuthSvc,
		sessions:       p.Sessions,
		authzSvc:       p.AuthzSvc,
		auditSvc:       p.AuditSvc,
		applicationSvc: p.ApplicationSvc,
		memberSvc:      p.MemberSvc,
		paymentSvc:     p.PaymentSvc,
		emailProvider:  p.EmailProvider,
		pdfProvider:    p.PDFProvider,
		limiter:        p.Limiter,
		obsMetrics:     p.ObsMetrics,
		gateway:        p.Gateway,
	}

	s.registerAuthRoutes()
	s.registerAPIRoutes()
	s.registerAdminRoutes()
	s.registerPublicRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/register", s.Register)
	auth.POST("/login", s.Login)
	auth.POST("/logout", s.Logout)
	auth.GET("/me", s.AuthRequired(), s.Me)
	auth.POST("/change-password", s.AuthRequired(), s.ChangePassword)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Applications --------
	applications := api.Group("/applications", s.AuthRequired())
	{
		applications.POST("", s.SubmitApplication)
		applications.GET("", s.ListMyApplications)
		applications.GET("/:id", s.GetApplication)
		applications.POST("/:id/resubmit", s.ResubmitApplication)
		applications.POST("/:id/appeal", s.AppealApplication)
	}

	// -------- Payments --------
	payments := api.Group("/payments")
	{
		payments.POST("/initiate", s.AuthRequired(), s.PaymentInitiateRateLimit(), s.InitiatePayment)
		payments.GET("", s.AuthRequired(), s.ListMyPayments)
		payments.GET("/:id", s.AuthRequired(), s.GetPayment)
		payments.GET("/:id/receipt", s.AuthRequired(), s.PaymentReceipt)

		// Gateway-facing; authenticated by the shared callback secret,
		// not a session.
		payments.POST("/mpesa/callback", s.CallbackTokenRequired(), s.MpesaCallback)
	}

	// -------- Membership --------
	api.GET("/membership", s.AuthRequired(), s.GetMyMembership)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AuthRequired())

	admin.GET("/applications",
		s.Authorize(authorization.ObjectApplication, authorization.ActionApplicationQueue),
		s.ListApplicationQueue)
	admin.POST("/applications/:id/approve",
		s.Authorize(authorization.ObjectApplication, authorization.ActionApplicationReview),
		s.ApproveApplication)
	admin.POST("/applications/:id/reject",
		s.Authorize(authorization.ObjectApplication, authorization.ActionApplicationReview),
		s.RejectApplication)
	admin.POST("/members/:id/revoke",
		s.Authorize(authorization.ObjectMember, authorization.ActionMemberManage),
		s.RevokeMember)
	admin.GET("/audit-logs",
		s.Authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView),
		s.ListAuditLogs)
}

func (s *Server) registerPublicRoutes() {
	s.engine.GET("/api/verify/:registrationNo", s.VerifyRateLimit(), s.VerifyMember)
}
