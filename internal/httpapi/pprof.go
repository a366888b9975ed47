package httpapi

import (
	"net"
	"runtime"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/pprof"

	"crouswatch/pkg/logx"
)

// PprofConfig exposes /debug/pprof on the API listener.
//
// On a non-loopback address the API token is required unless AllowInsecure
// is set.
type PprofConfig struct {
	Enabled       bool
	Prefix        string
	AllowInsecure bool

	MutexProfileFraction int
	BlockProfileRate     int
}

// ApplyProfileRates sets the runtime sampling rates. Zero leaves a rate
// unchanged.
func ApplyProfileRates(cfg PprofConfig) {
	if cfg.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) registerPprof(app *fiber.App, cfg Config) {
	pc := cfg.Pprof
	if !pc.Enabled {
		return
	}
	prefix := strings.TrimRight(strings.TrimSpace(pc.Prefix), "/")
	if strings.TrimSpace(cfg.Token) == "" && !pc.AllowInsecure && !isLoopbackAddr(cfg.Addr) {
		s.log.Error("pprof refused: non-loopback addr requires http.token or allow_insecure",
			logx.String("addr", cfg.Addr))
		return
	}
	ApplyProfileRates(pc)
	app.Use(prefix+"/debug/pprof", s.requireToken)
	app.Use(pprof.New(pprof.Config{Prefix: prefix}))
	s.log.Info("pprof enabled", logx.String("path", prefix+"/debug/pprof/"))
}
