// Package httpserver exposes the REST API, websocket feed, and Prometheus
// metrics endpoint.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatewatch/gatewatch/internal/device"
	"github.com/gatewatch/gatewatch/internal/model"
	"github.com/gatewatch/gatewatch/internal/store"
)

// RawQuerier is the narrow store contract required by the raw log endpoint.
type RawQuerier interface {
	RecentLogs(device string, limit int) ([]store.StoredLog, error)
	TotalLogCount(device string) (int64, error)
}

// Server provides the HTTP API over the device router.
type Server struct {
	addr      string
	router    *device.Router
	raw       RawQuerier
	server    *http.Server
	listener  net.Listener
	serveErr  chan error
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server. raw may be nil when persistence
// is disabled.
func NewServer(addr string, router *device.Router, raw RawQuerier) *Server {
	if addr == "" {
		addr = "0.0.0.0:8080"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     addr,
		router:   router,
		raw:      raw,
		serveErr: make(chan error, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/devices", s.handleDevices)
	r.GET("/api/logs", s.handleLogs)
	r.GET("/api/stats", s.handleStats)
	r.GET("/api/raw", s.handleRaw)
	r.POST("/api/reset", s.handleReset)
	r.GET("/ws", s.handleWS)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.server = &http.Server{
		Handler:           r,
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.startTime = time.Now()

	go func() {
		err := s.server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.serveErr <- err
	}()
	return nil
}

// Err reports the terminal outcome of the serve loop. It yields once,
// after the listener stops: nil on graceful shutdown, the serve error
// otherwise.
func (s *Server) Err() <-chan error {
	return s.serveErr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Addr returns the bound listen address, useful when the configured port is 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// lookupDevice resolves the device query parameter, writing the error
// response itself when the device is missing or unknown.
func (s *Server) lookupDevice(c *gin.Context) (*device.Device, bool) {
	id := c.Query("device")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing device parameter"})
		return nil, false
	}
	dev, err := s.router.Get(id)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown device: " + id})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return dev, true
}

func limitParam(c *gin.Context, def int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.startTime).String(),
		"devices": len(s.router.List()),
	}
	if s.raw != nil {
		if count, err := s.raw.TotalLogCount(""); err == nil {
			resp["persisted_logs"] = count
		}
	}
	c.JSON(http.StatusOK, resp)
}

type deviceStatus struct {
	model.DeviceInfo
	Available   bool `json:"available"`
	Subscribers int  `json:"subscribers"`
}

func (s *Server) handleDevices(c *gin.Context) {
	infos := s.router.List()
	out := make([]deviceStatus, 0, len(infos))
	for _, info := range infos {
		dev, err := s.router.Get(info.ID)
		if err != nil {
			continue
		}
		out = append(out, deviceStatus{
			DeviceInfo:  info,
			Available:   dev.Available(),
			Subscribers: dev.SubscriberCount(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"devices": out})
}

func (s *Server) handleLogs(c *gin.Context) {
	dev, ok := s.lookupDevice(c)
	if !ok {
		return
	}
	limit := limitParam(c, model.DefaultLogBuffer)
	records := dev.Recent(limit)
	c.JSON(http.StatusOK, gin.H{
		"device": dev.Info().ID,
		"logs":   records,
		"count":  len(records),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	dev, ok := s.lookupDevice(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"device": dev.Info().ID,
		"stats":  dev.Stats(),
	})
}

func (s *Server) handleRaw(c *gin.Context) {
	if s.raw == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}
	dev, ok := s.lookupDevice(c)
	if !ok {
		return
	}
	limit := limitParam(c, 100)
	logs, err := s.raw.RecentLogs(dev.Info().ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read persisted logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"device": dev.Info().ID,
		"logs":   logs,
		"count":  len(logs),
	})
}

func (s *Server) handleReset(c *gin.Context) {
	dev, ok := s.lookupDevice(c)
	if !ok {
		return
	}
	dev.Reset()
	c.JSON(http.StatusOK, gin.H{
		"device": dev.Info().ID,
		"status": "reset",
	})
}
