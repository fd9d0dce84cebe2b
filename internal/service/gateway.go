package service

import (
	"context"
	"encoding/json"
	nethttp "net/http"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"

	"github.com/dylanallan/genesiswebapp-sub003/internal/biz"
	pkglog "github.com/dylanallan/genesiswebapp-sub003/pkg/log"
)

// callRequest is the body of POST /v1/gateway/{source}/call.
type callRequest struct {
	Endpoint string            `json:"endpoint"`
	Params   map[string]string `json:"params"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers"`
	Body     json.RawMessage   `json:"body"`
}

// sourceView is the wire shape of a data source. Credentials never
// appear here regardless of what the registry holds.
type sourceView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type"`
	BaseURL     string   `json:"base_url,omitempty"`
	AuthType    string   `json:"auth_type"`
	RateLimit   float64  `json:"rate_limit"`
	Enabled     bool     `json:"enabled"`
	Categories  []string `json:"categories,omitempty"`
	// Metadata is only populated on the detail view, with proxy
	// credentials masked.
	Metadata *sourceMetadataView `json:"metadata,omitempty"`
}

type sourceMetadataView struct {
	Region   string   `json:"region,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Notes    string   `json:"notes,omitempty"`
	DocsURL  string   `json:"docs_url,omitempty"`
	ProxyURL string   `json:"proxy_url,omitempty"`
}

type useCaseView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	Sources     []string `json:"sources"`
}

// GatewayService exposes rate-limited cached calls to registered data
// sources, plus read access to the source catalog.
type GatewayService struct {
	gateway  *biz.Gateway
	registry *biz.SourceRegistry
	logger   *pkglog.LogHelper
}

func NewGatewayService(gateway *biz.Gateway, registry *biz.SourceRegistry, logger log.Logger) *GatewayService {
	return &GatewayService{
		gateway:  gateway,
		registry: registry,
		logger:   pkglog.NewLogHelper(logger),
	}
}

// RegisterRoutes mounts the gateway and catalog endpoints.
func (s *GatewayService) RegisterRoutes(srv *http.Server) {
	r := srv.Route("/v1")
	r.POST("/gateway/{source}/call", s.handleCall)
	r.GET("/sources", s.handleListSources)
	r.GET("/sources/{id}", s.handleGetSource)
	r.GET("/use-cases", s.handleListUseCases)
	r.GET("/use-cases/{id}/sources", s.handleUseCaseSources)
}

func (s *GatewayService) handleCall(ctx http.Context) error {
	sourceID := ctx.Vars().Get("source")

	// An empty body is a plain GET of the source's base URL.
	var req callRequest
	if ctx.Request().ContentLength != 0 {
		if err := ctx.Bind(&req); err != nil {
			return kerrors.BadRequest("INVALID_REQUEST", "request body must be valid JSON")
		}
	}

	h := ctx.Middleware(func(c context.Context, in interface{}) (interface{}, error) {
		r := in.(*callRequest)
		return s.gateway.Call(c, sourceID, r.Endpoint, r.Params, &biz.CallOptions{
			Method:  r.Method,
			Headers: r.Headers,
			Body:    r.Body,
		})
	})
	out, err := h(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(nethttp.StatusOK, out)
}

func (s *GatewayService) handleListSources(ctx http.Context) error {
	var sources []*biz.DataSource
	switch {
	case ctx.Query().Get("category") != "":
		sources = s.registry.GetSourcesByCategory(ctx.Query().Get("category"))
	case ctx.Query().Get("tag") != "":
		sources = s.registry.GetSourcesByTag(ctx.Query().Get("tag"))
	default:
		sources = s.registry.GetAllSources()
	}
	views := make([]*sourceView, 0, len(sources))
	for _, src := range sources {
		views = append(views, newSourceView(src))
	}
	return ctx.Result(nethttp.StatusOK, map[string]interface{}{
		"total":   len(views),
		"sources": views,
	})
}

func (s *GatewayService) handleGetSource(ctx http.Context) error {
	id := ctx.Vars().Get("id")
	src, ok := s.registry.GetSource(id)
	if !ok {
		return kerrors.NotFound("SOURCE_NOT_FOUND", "no source registered with id "+id)
	}
	view := newSourceView(src)
	if src.Metadata != nil && !src.Metadata.IsEmpty() {
		masked := src.Metadata.MaskSensitive()
		view.Metadata = &sourceMetadataView{
			Region:   masked.Region,
			Tags:     masked.Tags,
			Notes:    masked.Notes,
			DocsURL:  masked.DocsURL,
			ProxyURL: masked.ProxyURL,
		}
	}
	return ctx.Result(nethttp.StatusOK, view)
}

func (s *GatewayService) handleListUseCases(ctx http.Context) error {
	useCases := s.registry.GetAllUseCases()
	views := make([]*useCaseView, 0, len(useCases))
	for _, uc := range useCases {
		views = append(views, &useCaseView{
			ID:          uc.ID,
			Name:        uc.Name,
			Description: uc.Description,
			Categories:  uc.Categories,
			Sources:     uc.Sources,
		})
	}
	return ctx.Result(nethttp.StatusOK, map[string]interface{}{
		"total":     len(views),
		"use_cases": views,
	})
}

func (s *GatewayService) handleUseCaseSources(ctx http.Context) error {
	id := ctx.Vars().Get("id")
	sources, ok := s.registry.GetUseCaseSources(id)
	if !ok {
		return kerrors.NotFound("USE_CASE_NOT_FOUND", "no use case registered with id "+id)
	}
	views := make([]*sourceView, 0, len(sources))
	for _, src := range sources {
		views = append(views, newSourceView(src))
	}
	return ctx.Result(nethttp.StatusOK, map[string]interface{}{
		"use_case": id,
		"total":    len(views),
		"sources":  views,
	})
}

func newSourceView(src *biz.DataSource) *sourceView {
	return &sourceView{
		ID:          src.ID,
		Name:        src.Name,
		Description: src.Description,
		Type:        src.Type,
		BaseURL:     src.BaseURL,
		AuthType:    src.AuthType,
		RateLimit:   src.RateLimit,
		Enabled:     src.Enabled,
		Categories:  src.Categories,
	}
}
