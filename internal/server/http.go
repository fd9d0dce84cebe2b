package server

import (
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"

	"github.com/dylanallan/genesiswebapp-sub003/internal/conf"
	"github.com/dylanallan/genesiswebapp-sub003/internal/server/middleware"
	"github.com/dylanallan/genesiswebapp-sub003/internal/service"
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(
	c *conf.Server,
	relay *service.RelayService,
	gateway *service.GatewayService,
	status *service.StatusService,
	logger log.Logger,
) *http.Server {
	adminToken := ""
	if c.Http != nil {
		adminToken = c.Http.AdminToken
	}
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
		// Request logging runs as a filter, not a middleware, so the
		// streaming relay route is covered too.
		http.Filter(
			middleware.RequestLog(logger),
			middleware.AdminGuard(adminToken, logger),
		),
	}
	if c.Http != nil {
		if c.Http.Network != "" {
			opts = append(opts, http.Network(c.Http.Network))
		}
		if c.Http.Addr != "" {
			opts = append(opts, http.Address(c.Http.Addr))
		}
		if c.Http.Timeout != nil {
			// Zero disables the per-request deadline. Completions stream
			// for longer than any sane fixed timeout, so the default
			// config keeps this at 0 and relies on client disconnects.
			opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
		}
	}
	srv := http.NewServer(opts...)

	relay.RegisterRoutes(srv)
	gateway.RegisterRoutes(srv)
	status.RegisterRoutes(srv)

	return srv
}
