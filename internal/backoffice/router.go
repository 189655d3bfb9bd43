package backoffice

import (
	"log/slog"

	"github.com/evetabi/managedwealth/internal/api/middleware"
	"github.com/evetabi/managedwealth/internal/backoffice/handler"
	"github.com/evetabi/managedwealth/internal/config"
	"github.com/evetabi/managedwealth/internal/metrics"
	"github.com/evetabi/managedwealth/internal/service"
	"github.com/gin-gonic/gin"
)

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	AuthSvc        *service.AuthService
	CoverageSvc    *service.CoverageService
	ReserveFundSvc *service.ReserveFundService
	Runner         handler.CycleRunner
	Cfg            *config.Config
	Logger         *slog.Logger
}

// SetupBackofficeRouter creates the admin Gin engine on the backoffice port.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(middleware.IPAllowlistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	reserveH := handler.NewReserveFundHandler(deps.CoverageSvc, deps.ReserveFundSvc, log)
	settleH := handler.NewSettlementHandler(deps.ReserveFundSvc, deps.Runner, log)
	riskH := handler.NewRiskHandler(deps.ReserveFundSvc)

	mutate := middleware.MutationMiddleware()

	admin := r.Group("/admin")
	admin.Use(middleware.AdminJWTMiddleware(deps.AuthSvc))
	{
		// Reserve fund
		rf := admin.Group("/reserve-fund")
		{
			rf.GET("", reserveH.Overview)
			rf.POST("/entries", mutate, reserveH.AddEntry)
		}

		// Settlement
		st := admin.Group("/settlement")
		{
			st.GET("/health", settleH.Health)
			st.POST("/run", mutate, settleH.Run)
		}

		// Risk
		admin.GET("/risk-events", riskH.Events)
	}

	return r
}
