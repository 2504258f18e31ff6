package router

import (
	"net/http"
	"time"

	"agri-ledger/internal/config"
	"agri-ledger/internal/finance"
	"agri-ledger/internal/handlers"
	"agri-ledger/internal/metrics"
	"agri-ledger/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

func SetupRouter(f *finance.Facade, cfg config.Config, logger zerolog.Logger) *mux.Router {
	walletHandler := handlers.NewWalletHandler(f, logger)
	escrowHandler := handlers.NewEscrowHandler(f, logger)
	loanHandler := handlers.NewLoanHandler(f, logger)
	creditHandler := handlers.NewCreditHandler(f, logger)
	scheduleHandler := handlers.NewScheduleHandler(f, logger)

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "default-secret-key-change-in-production"
		logger.Warn().Msg("JWT_SECRET not set, using default key")
	}

	r := mux.NewRouter()

	rateLimiter := middleware.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)

	r.Use(middleware.ErrorHandling(logger))
	r.Use(middleware.PerformanceMonitoring(logger, time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(rateLimiter.Middleware())
	api.Use(middleware.Authentication(jwtSecret, logger))
	api.Use(middleware.RequestValidation())

	wallets := api.PathPrefix("/wallets").Subrouter()
	wallets.HandleFunc("/me", walletHandler.GetMyWallet).Methods("GET")
	wallets.HandleFunc("/{id}", walletHandler.GetWallet).Methods("GET")
	wallets.HandleFunc("/{id}/deposit", walletHandler.Deposit).Methods("POST")
	wallets.HandleFunc("/{id}/withdraw", walletHandler.Withdraw).Methods("POST")
	wallets.HandleFunc("/{id}/transactions", walletHandler.GetTransactions).Methods("GET")
	wallets.HandleFunc("/{id}/limits", walletHandler.GetLimits).Methods("GET")
	wallets.HandleFunc("/{id}/pin", walletHandler.SetPin).Methods("PUT")
	wallets.HandleFunc("/{id}/dashboard", walletHandler.GetDashboard).Methods("GET")
	wallets.HandleFunc("/{id}/escrows", escrowHandler.ListForWallet).Methods("GET")
	wallets.HandleFunc("/{id}/loans", loanHandler.ListForWallet).Methods("GET")
	wallets.HandleFunc("/{id}/schedules", scheduleHandler.ListForWallet).Methods("GET")

	escrows := api.PathPrefix("/escrows").Subrouter()
	escrows.HandleFunc("", escrowHandler.Create).Methods("POST")
	escrows.HandleFunc("/order/{orderId}", escrowHandler.GetByOrder).Methods("GET")
	escrows.HandleFunc("/{id}", escrowHandler.Get).Methods("GET")
	escrows.HandleFunc("/{id}/release", escrowHandler.Release).Methods("POST")
	escrows.HandleFunc("/{id}/refund", escrowHandler.Refund).Methods("POST")
	escrows.HandleFunc("/{id}/dispute", escrowHandler.Dispute).Methods("POST")

	loans := api.PathPrefix("/loans").Subrouter()
	loans.HandleFunc("", loanHandler.Request).Methods("POST")
	loans.HandleFunc("/{id}", loanHandler.Get).Methods("GET")
	loans.HandleFunc("/{id}/repay", loanHandler.Repay).Methods("POST")

	schedules := api.PathPrefix("/schedules").Subrouter()
	schedules.HandleFunc("", scheduleHandler.Create).Methods("POST")
	schedules.HandleFunc("/{id}", scheduleHandler.Cancel).Methods("DELETE")
	schedules.HandleFunc("/{id}/execute", scheduleHandler.Execute).Methods("POST")

	credit := api.PathPrefix("/credit").Subrouter()
	credit.HandleFunc("/factors", creditHandler.Factors).Methods("GET")
	credit.HandleFunc("/report", creditHandler.Report).Methods("GET")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireRole(middleware.RoleAdmin))
	admin.HandleFunc("/loans/{id}/approve", loanHandler.Approve).Methods("POST")
	admin.HandleFunc("/loans/{id}/default", loanHandler.Default).Methods("POST")
	admin.HandleFunc("/wallets/{id}/limits", walletHandler.SyncLimits).Methods("POST")
	admin.HandleFunc("/credit/events", creditHandler.RecordEvent).Methods("POST")
	admin.HandleFunc("/credit/score", creditHandler.Score).Methods("POST")
	admin.HandleFunc("/credit/score/advanced", creditHandler.AdvancedScore).Methods("POST")
	admin.HandleFunc("/stats", walletHandler.GetStats).Methods("GET")

	return r
}
