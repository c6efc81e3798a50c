package main

import (
	"net/http"

	"spendwise/internal/app"
	httphandlers "spendwise/internal/interfaces/http"
	"spendwise/internal/shared/config"
	"spendwise/internal/shared/logger"
	"spendwise/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *app.Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	var health *httphandlers.HealthHandler
	if deps.DB != nil {
		health = httphandlers.NewHealthHandler(deps.DB)
	} else {
		health = httphandlers.NewHealthHandler(nil)
	}
	mux.HandleFunc("GET /health", health.HandleHealth)

	plaidHandler := httphandlers.NewPlaidHandler(deps.Link)
	mux.HandleFunc("GET /api/plaid/link_token", plaidHandler.HandleLinkToken)
	mux.HandleFunc("POST /api/plaid/token_exchange", plaidHandler.HandleTokenExchange)
	mux.HandleFunc("POST /api/plaid/transactions/sync", plaidHandler.HandleTriggerSync)
	// Earlier clients trigger the sync with GET.
	mux.HandleFunc("GET /api/plaid/transactions/sync", plaidHandler.HandleTriggerSync)
	mux.HandleFunc("GET /api/plaid/has_linked_plaid", plaidHandler.HandleHasLinked)

	ledgerHandler := httphandlers.NewLedgerHandler(deps.Accounts, deps.Txs)
	mux.HandleFunc("GET /api/accounts", ledgerHandler.HandleListAccounts)
	mux.HandleFunc("GET /api/accounts/{id}/transactions", ledgerHandler.HandleListTransactions)

	handler := middleware.Tracing(mux)
	handler = middleware.CORS(cfg.Server.AllowedHosts)(handler)
	handler = middleware.Logging(handler)

	if cfg.Server.ForceHTTPS {
		handler = middleware.RequireHTTPS(cfg.Server.AllowedHosts)(handler)
		logger.Info("HTTPS enforcement enabled")
	}
	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(cfg.Telemetry.ServiceName)(handler)
	}
	return handler
}
