package service

import (
	"encoding/json"
	"fmt"
	nethttp "net/http"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"

	"github.com/dylanallan/genesiswebapp-sub003/internal/biz"
	pkglog "github.com/dylanallan/genesiswebapp-sub003/pkg/log"
)

// askRequest is the body of POST /v1/relay/completions.
type askRequest struct {
	Prompt         string `json:"prompt"`
	Classification string `json:"classification"`
	Model          string `json:"model"`
	Quality        string `json:"quality"`
	Urgency        string `json:"urgency"`
}

// RelayService streams AI completions to clients over SSE, delegating
// provider selection and fallback to the router.
type RelayService struct {
	router *biz.ProviderRouter
	logger *pkglog.LogHelper
}

func NewRelayService(router *biz.ProviderRouter, logger log.Logger) *RelayService {
	return &RelayService{
		router: router,
		logger: pkglog.NewLogHelper(logger),
	}
}

// RegisterRoutes mounts the relay endpoints on the HTTP server.
func (s *RelayService) RegisterRoutes(srv *http.Server) {
	r := srv.Route("/v1")
	r.POST("/relay/completions", s.handleAsk)
}

// handleAsk bridges the router's chunk stream onto the HTTP response as
// server-sent events. Provider and model are reported as headers, which
// means they are fixed by the time the first byte is committed; a provider
// failure after that point is reported as an SSE error event, not a retry.
func (s *RelayService) handleAsk(ctx http.Context) error {
	var req askRequest
	if err := ctx.Bind(&req); err != nil {
		return kerrors.BadRequest("INVALID_REQUEST", "request body must be valid JSON")
	}
	if req.Prompt == "" {
		return kerrors.BadRequest("INVALID_REQUEST", "prompt is required")
	}

	stream, err := s.router.Ask(ctx, &biz.AskRequest{
		Prompt:         req.Prompt,
		Classification: req.Classification,
		Model:          req.Model,
		Quality:        req.Quality,
		Urgency:        req.Urgency,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	w := ctx.Response()
	flusher, ok := w.(nethttp.Flusher)
	if !ok {
		return kerrors.InternalServer("STREAMING_UNSUPPORTED", "response writer does not support flushing")
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	header.Set("X-Relay-Provider", stream.Provider)
	header.Set("X-Relay-Model", stream.Model)
	w.WriteHeader(nethttp.StatusOK)
	flusher.Flush()

	clientGone := ctx.Request().Context().Done()
	for {
		select {
		case <-clientGone:
			s.logger.APIWithContext(ctx, "client disconnected mid-stream",
				"provider", stream.Provider)
			return nil
		case chunk, open := <-stream.Chunks():
			if !open {
				if streamErr := stream.Err(); streamErr != nil {
					s.writeErrorEvent(w, flusher, streamErr)
					return nil
				}
				fmt.Fprint(w, "data: [DONE]\n\n")
				flusher.Flush()
				return nil
			}
			payload, merr := json.Marshal(chunk)
			if merr != nil {
				continue
			}
			if _, werr := fmt.Fprintf(w, "data: %s\n\n", payload); werr != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

// writeErrorEvent reports a post-commit failure to a client that already
// received a 200 and possibly some chunks.
func (s *RelayService) writeErrorEvent(w nethttp.ResponseWriter, flusher nethttp.Flusher, err error) {
	ke := kerrors.FromError(err)
	reason := ke.Reason
	if reason == "" {
		reason = "STREAM_FAILED"
	}
	payload, merr := json.Marshal(map[string]string{
		"reason":  reason,
		"message": ke.Message,
	})
	if merr != nil {
		payload = []byte(`{"reason":"STREAM_FAILED"}`)
	}
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
	flusher.Flush()
}
