package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/k11v/forge/internal/build"
)

// New returns a new HTTP server.
// It should be started with http.Server's ListenAndServe.
func New(cfg *Config, log *slog.Logger, service *build.Service) (*http.Server, error) {
	addr := net.JoinHostPort(cfg.host(), strconv.Itoa(cfg.port()))

	subLogger := log.With("component", "server")
	subLogLogger := slog.NewLogLogger(subLogger.Handler(), slog.LevelError)

	verificationKey, err := parseVerificationKey(cfg.JWTVerificationKey)
	if err != nil {
		return nil, fmt.Errorf("server.New: %w", err)
	}

	h := newHandler(service, verificationKey, subLogger)

	return &http.Server{
		Addr:              addr,
		ErrorLog:          subLogLogger,
		Handler:           h,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}, nil
}
