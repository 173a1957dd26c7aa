package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/vendio/wasession/discovery"
	"github.com/vendio/wasession/dispatch"
	"github.com/vendio/wasession/internal/config"
	"github.com/vendio/wasession/relay"
	"github.com/vendio/wasession/sessions"
)

// Server is the thin HTTP surface over the session manager's public
// operations. All state lives in the injected components.
type Server struct {
	env    string
	mux    *http.ServeMux
	routes []string
	config config.Config

	registry   *sessions.Registry
	supervisor *sessions.Supervisor
	status     *sessions.StatusService
	discovery  *discovery.Service
	dispatch   *dispatch.Service
	broker     *relay.Broker
}

func New(
	cfg config.Config,
	registry *sessions.Registry,
	supervisor *sessions.Supervisor,
	status *sessions.StatusService,
	discoverySvc *discovery.Service,
	dispatchSvc *dispatch.Service,
	broker *relay.Broker,
) (*Server, error) {
	if supervisor == nil || registry == nil || broker == nil {
		return nil, fmt.Errorf("[Server New] missing session components")
	}

	s := &Server{
		env:        cfg.GetEnv(),
		mux:        http.NewServeMux(),
		config:     cfg,
		registry:   registry,
		supervisor: supervisor,
		status:     status,
		discovery:  discoverySvc,
		dispatch:   dispatchSvc,
		broker:     broker,
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Info().Msgf("[%-19s] %s", displayMethod, path)
}
