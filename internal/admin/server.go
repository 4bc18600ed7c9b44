// Package admin serves the operator HTTP surface of a running puppet.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LinuxSuRen/wechaty/internal/metrics"
	"github.com/LinuxSuRen/wechaty/internal/puppet"
	"github.com/LinuxSuRen/wechaty/internal/types"
)

// Session is the part of the puppet the admin surface drives.
type Session interface {
	Status() puppet.Status
	Logout(ctx context.Context) error
	Ding(ctx context.Context, data string) error
	SendText(ctx context.Context, to puppet.Receiver, text string) error
}

// Server is the admin HTTP handler.
type Server struct {
	session Session
	router  *gin.Engine
	started time.Time
}

// NewServer builds the router. CORS is only enabled when origins are given.
func NewServer(session Session, corsOrigins []string) *Server {
	gin.SetMode(gin.ReleaseMode)
	metrics.RegisterMetrics()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(slog.With("component", "admin")))
	r.Use(RequestMetrics())
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{"GET", "POST"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{session: session, router: r, started: time.Now()}
	r.GET("/health", s.handleHealth)
	r.GET("/status", s.handleStatus)
	r.GET("/scan", s.handleScan)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/logout", s.handleLogout)
	r.POST("/ding", s.handleDing)
	r.POST("/send", s.handleSend)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("admin server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// StatusResponse is the JSON body of GET /status.
type StatusResponse struct {
	State           string            `json:"state"`
	UserID          string            `json:"user_id,omitempty"`
	Since           time.Time         `json:"since"`
	Scan            *puppet.ScanState `json:"scan,omitempty"`
	ConnectivityDue string            `json:"connectivity_due"`
	ScanDue         string            `json:"scan_due"`
	ScanSleeping    bool              `json:"scan_sleeping"`
}

func NewStatusResponse(st puppet.Status) StatusResponse {
	return StatusResponse{
		State:           st.State.String(),
		UserID:          st.UserID,
		Since:           st.Since,
		Scan:            st.Scan,
		ConnectivityDue: st.ConnectivityDue.Round(time.Second).String(),
		ScanDue:         st.ScanDue.Round(time.Second).String(),
		ScanSleeping:    st.ScanSleeping,
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, NewStatusResponse(s.session.Status()))
}

func (s *Server) handleScan(c *gin.Context) {
	st := s.session.Status()
	if st.Scan == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending scan"})
		return
	}
	c.JSON(http.StatusOK, st.Scan)
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.session.Logout(c.Request.Context()); err != nil {
		s.fail(c, "logout", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type dingRequest struct {
	Data string `json:"data"`
}

func (s *Server) handleDing(c *gin.Context) {
	var req dingRequest
	// An empty body pings with a default payload.
	_ = c.ShouldBindJSON(&req)
	if req.Data == "" {
		req.Data = "admin"
	}
	if err := s.session.Ding(c.Request.Context(), req.Data); err != nil {
		s.fail(c, "ding", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type sendRequest struct {
	ContactID string `json:"contact_id"`
	RoomID    string `json:"room_id"`
	Text      string `json:"text" binding:"required"`
}

func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text and one of contact_id or room_id are required"})
		return
	}
	to := puppet.Receiver{ContactID: req.ContactID, RoomID: req.RoomID}
	if err := s.session.SendText(c.Request.Context(), to, req.Text); err != nil {
		s.fail(c, "send", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) fail(c *gin.Context, op string, err error) {
	status := http.StatusBadGateway
	if types.KindOf(err) == types.KindInvalidState {
		status = http.StatusConflict
	}
	slog.Warn("admin request failed", "op", op, "error", err)
	c.JSON(status, gin.H{"error": err.Error(), "kind": string(types.KindOf(err))})
}
