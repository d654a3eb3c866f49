// Command devstub runs a fake receipt-parsing backend implementing the
// upload and finalize contract, so the client can be exercised end to end
// without the real service. The outcome for a file is scripted by its name:
//
//	*dup*      -> duplicate conflict
//	*review*   -> needs-review with a provisional receipt
//	*badparse* -> stored, but parse error
//	*fail*     -> 500 with a structured error body
//	anything else -> clean parse
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/mleary/receiptdrop/internal/config"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	router := newRouter()

	port := fmt.Sprintf(":%d", cfg.Devstub.Port)
	slog.Info("starting devstub backend", "port", port)

	if err := http.ListenAndServe(port, router); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
