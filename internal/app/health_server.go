package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hanamilabs/tg-forwarder/internal/config"
	"github.com/hanamilabs/tg-forwarder/internal/service"
)

var ErrServerClosed = http.ErrServerClosed

type ConnectivityChecker interface {
	CheckConnectivity(ctx context.Context) error
}

type HealthServer struct {
	cfg        config.Settings
	logger     *slog.Logger
	httpServer *http.Server
	startedAt  time.Time
	stats      func() service.RelayStats
	telegram   ConnectivityChecker
}

type serviceCheck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type healthResponse struct {
	UptimeSeconds int64              `json:"uptimeSeconds"`
	Source        string             `json:"source"`
	Destination   string             `json:"destination"`
	Telegram      serviceCheck       `json:"telegram"`
	Relay         service.RelayStats `json:"relay"`
}

func NewHealthServer(cfg config.Settings, logger *slog.Logger, stats func() service.RelayStats, telegram ConnectivityChecker) *HealthServer {
	server := &HealthServer{cfg: cfg, logger: logger, startedAt: time.Now(), stats: stats, telegram: telegram}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.healthHandler)

	server.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HealthPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server
}

func (s *HealthServer) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *HealthServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res := healthResponse{
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Source:        s.cfg.SourceChat,
		Destination:   s.cfg.DestinationChat,
	}
	if s.stats != nil {
		res.Relay = s.stats()
	}
	if s.telegram != nil {
		res.Telegram = checkFromErr(s.telegram.CheckConnectivity(ctx))
	} else {
		res.Telegram = serviceCheck{OK: false, Error: "not connected"}
	}

	status := http.StatusOK
	if !res.Telegram.OK {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		s.logger.Error("encode health response failed", "error", err)
	}
}

func checkFromErr(err error) serviceCheck {
	if err == nil {
		return serviceCheck{OK: true}
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = "unknown error"
	}
	return serviceCheck{OK: false, Error: msg}
}

func IsServerClosed(err error) bool {
	return errors.Is(err, ErrServerClosed)
}
