package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/yourorg/efile/internal/ack"
	"github.com/yourorg/efile/internal/mef"
	"github.com/yourorg/efile/internal/submission"
)

// mef-sandbox serves a local stand-in for the filing endpoint.
// SANDBOX_OUTCOME=reject makes every submission end in Rejected.
func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env", "error", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	outcome := submission.AcceptAll
	if strings.EqualFold(os.Getenv("SANDBOX_OUTCOME"), "reject") {
		outcome = func(mef.Document) (ack.Status, string) {
			return ack.StatusRejected, "R0000-500-01: primary SSN and name control do not match"
		}
	}
	addr := os.Getenv("SANDBOX_ADDR")
	if addr == "" {
		addr = ":8081"
	}

	sandbox := submission.NewSandbox(outcome, logger)
	srv := &http.Server{Addr: addr, Handler: sandbox.Routes(), ReadHeaderTimeout: 10 * time.Second}
	logger.Info("mef sandbox listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
