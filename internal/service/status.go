package service

import (
	nethttp "net/http"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"

	"github.com/dylanallan/genesiswebapp-sub003/internal/biz"
	pkglog "github.com/dylanallan/genesiswebapp-sub003/pkg/log"
)

// toggleRequest is the body of PATCH /v1/sources/{id}.
type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

// StatusService exposes breaker health and the admin toggles.
type StatusService struct {
	manager  *biz.BreakerManager
	registry *biz.SourceRegistry
	logger   *pkglog.LogHelper
}

func NewStatusService(manager *biz.BreakerManager, registry *biz.SourceRegistry, logger log.Logger) *StatusService {
	return &StatusService{
		manager:  manager,
		registry: registry,
		logger:   pkglog.NewLogHelper(logger),
	}
}

// RegisterRoutes mounts the status and admin endpoints.
func (s *StatusService) RegisterRoutes(srv *http.Server) {
	r := srv.Route("/v1")
	r.GET("/status/breakers", s.handleBreakerStatus)
	r.POST("/admin/breakers/reset", s.handleResetAll)
	r.POST("/admin/breakers/{name}/reset", s.handleResetBreaker)
	r.PATCH("/sources/{id}", s.handleToggleSource)
}

func (s *StatusService) handleBreakerStatus(ctx http.Context) error {
	snapshots := s.manager.Status()
	return ctx.Result(nethttp.StatusOK, map[string]interface{}{
		"total":    len(snapshots),
		"breakers": snapshots,
	})
}

func (s *StatusService) handleResetAll(ctx http.Context) error {
	count := s.manager.ResetAll(ctx)
	s.logger.API("all circuit breakers reset", "count", count)
	return ctx.Result(nethttp.StatusOK, map[string]interface{}{
		"reset_count": count,
	})
}

func (s *StatusService) handleResetBreaker(ctx http.Context) error {
	name := ctx.Vars().Get("name")
	reset := s.manager.Reset(ctx, name)
	if !reset {
		return kerrors.NotFound("BREAKER_NOT_FOUND", "no circuit breaker named "+name)
	}
	s.logger.API("circuit breaker reset", "breaker", name)
	return ctx.Result(nethttp.StatusOK, map[string]interface{}{
		"breaker": name,
		"reset":   true,
	})
}

func (s *StatusService) handleToggleSource(ctx http.Context) error {
	id := ctx.Vars().Get("id")
	var req toggleRequest
	if err := ctx.Bind(&req); err != nil {
		return kerrors.BadRequest("INVALID_REQUEST", "request body must be valid JSON")
	}
	if !s.registry.SetSourceEnabled(ctx, id, req.Enabled) {
		return kerrors.NotFound("SOURCE_NOT_FOUND", "no source registered with id "+id)
	}
	src, _ := s.registry.GetSource(id)
	return ctx.Result(nethttp.StatusOK, newSourceView(src))
}
