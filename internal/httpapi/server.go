// Package httpapi serves the watcher status and operator actions over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"crouswatch/internal/ops"
	"crouswatch/internal/storage"
	"crouswatch/internal/watch"
	"crouswatch/pkg/logx"
)

// Ops is what the API reads and acts on.
type Ops interface {
	Status() ops.Status
	Listings() watch.Snapshot
	Check(ctx context.Context, who ops.Actor) (watch.Report, error)
	Reset(ctx context.Context, who ops.Actor) (int, error)
	Deliveries(ctx context.Context, limit int) ([]storage.Delivery, error)
}

type Config struct {
	Addr string
	// Token, when set, is required as a bearer token on POST routes and
	// on pprof.
	Token string
	Pprof PprofConfig
}

// Server wraps the Fiber app.
type Server struct {
	App *fiber.App

	ops   Ops
	log   logx.Logger
	token atomic.Pointer[string]
}

// New builds the app and registers routes. metrics may be nil, in which
// case /metrics is not served.
func New(cfg Config, o Ops, metrics http.Handler, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{ops: o, log: log.With(logx.String("comp", "httpapi"))}
	s.SetToken(cfg.Token)

	app := fiber.New(fiber.Config{
		AppName:      "crouswatch",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 3 * time.Minute,
		ErrorHandler: func(c fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "internal server error"
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
				message = fe.Message
			}
			return jsonError(c, code, message)
		},
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Stream:        io.Discard,
		DisableColors: true,
		Done: func(c fiber.Ctx, _ []byte) {
			s.log.Debug("http request",
				logx.String("method", c.Method()),
				logx.String("path", c.Path()),
				logx.Int("status", c.Response().StatusCode()),
				logx.String("ip", c.IP()),
			)
		},
	}))

	s.registerPprof(app, cfg)

	app.Get("/", s.status)
	app.Get("/listings", s.listings)
	app.Get("/deliveries", s.deliveries)
	app.Get("/healthz", s.healthz)
	if metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics))
	}
	app.Post("/check", s.requireToken, s.check)
	app.Post("/reset", s.requireToken, s.reset)

	s.App = app
	return s
}

// SetToken swaps the bearer token. An empty token opens the POST routes.
func (s *Server) SetToken(token string) {
	token = strings.TrimSpace(token)
	s.token.Store(&token)
}

func (s *Server) requireToken(c fiber.Ctx) error {
	want := *s.token.Load()
	if want == "" {
		return c.Next()
	}
	got, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(want)) != 1 {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized")
	}
	return c.Next()
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("http api listening", logx.String("addr", ln.Addr().String()))
	return s.App.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true})
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.App.ShutdownWithContext(ctx)
}
