// Package stubapi is a reference implementation of the remote task
// collaborator, used for local runs and for exercising the client end to end.
package stubapi

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"taskmanagement/storage"
)

const (
	defaultPageSize = 30
	maxPageSize     = 1000
	maxBodySize     = 1 << 20
	publishTimeout  = 5 * time.Second
	pageTokenPrefix = "o:"
)

// Server holds the handler dependencies.
type Server struct {
	repo     storage.Repository
	deduper  storage.Deduper
	events   storage.Publisher
	logger   *log.Logger
	pageSize int
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithDeduper replaces the in-process idempotency store.
func WithDeduper(d storage.Deduper) Option {
	return func(s *Server) {
		if d != nil {
			s.deduper = d
		}
	}
}

// WithPublisher sends change events after every successful write.
func WithPublisher(p storage.Publisher) Option {
	return func(s *Server) {
		if p != nil {
			s.events = p
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPageSize sets the page size used when the request does not ask for one.
func WithPageSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithClock overrides the time used for stats and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

func NewServer(repo storage.Repository, opts ...Option) *Server {
	s := &Server{
		repo:     repo,
		deduper:  storage.NewMemoryDeduper(24 * time.Hour),
		events:   storage.NopPublisher{},
		logger:   log.StandardLogger(),
		pageSize: defaultPageSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register wires up all routes on e.
func (s *Server) Register(e *echo.Echo, auth Authenticator) {
	e.GET("/healthz", s.healthz)

	api := e.Group("/api", RequireOwner(auth))
	api.GET("/tasks", s.listTasks)
	api.POST("/tasks", s.createTask)
	api.GET("/tasks/stats", s.taskStats)
	api.GET("/tasks/:id", s.getTask)
	api.PATCH("/tasks/:id", s.patchTask)
	api.PUT("/tasks/:id", s.putTask)
	api.DELETE("/tasks/:id", s.deleteTask)

	api.GET("/projects", s.listProjects)
	api.POST("/projects", s.createProject)
	api.GET("/projects/:id", s.getProject)
	api.PUT("/projects/:id", s.updateProject)
	api.DELETE("/projects/:id", s.deleteProject)
	api.GET("/projects/:id/stats", s.projectStats)
}

// NewEcho returns a ready router with the standard middleware stack.
func NewEcho(s *Server, auth Authenticator) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = sonicSerializer{}
	e.HTTPErrorHandler = errorHandler(s.logger)

	e.Use(RequestMetrics(s.logger))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{
			echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept,
			echo.HeaderAuthorization, echo.HeaderContentEncoding, "Idempotency-Key",
		},
	}))
	e.Use(DecompressRequests())

	s.Register(e, auth)
	return e
}

func (s *Server) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := s.repo.Ping(ctx); err != nil {
		c.Set(ctxErrorStage, "ping")
		return apiError(http.StatusServiceUnavailable, codeInternal, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) publish(c echo.Context, ev storage.Event) {
	ev.Owner = ownerOf(c)
	ev.At = s.now().UTC()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), publishTimeout)
	defer cancel()
	// Publishers log their own failures; the write already happened.
	_ = s.events.Publish(ctx, ev)
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	if err := sonic.ConfigStd.NewDecoder(lr).Decode(v); err != nil {
		c.Set(ctxErrorStage, "decode")
		return apiError(http.StatusBadRequest, codeInvalidBody, "invalid body: "+err.Error())
	}
	return nil
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.Set(ctxErrorStage, "path")
		return 0, apiError(http.StatusBadRequest, codeInvalidBody, "invalid id")
	}
	return id, nil
}

func (s *Server) parsePageSize(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.pageSize, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, apiError(http.StatusBadRequest, codeInvalidQuery, "invalid page size")
	}
	return min(n, maxPageSize), nil
}

func encodePageToken(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(pageTokenPrefix + strconv.Itoa(offset)))
}

func decodePageToken(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	invalid := apiError(http.StatusBadRequest, codeInvalidPageToken, "invalid page token")
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, invalid
	}
	rest, ok := strings.CutPrefix(string(raw), pageTokenPrefix)
	if !ok {
		return 0, invalid
	}
	offset, err := strconv.Atoi(rest)
	if err != nil || offset < 0 {
		return 0, invalid
	}
	return offset, nil
}
