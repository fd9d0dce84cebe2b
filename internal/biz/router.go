package biz

import (
	"context"
	"io"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/dylanallan/genesiswebapp-sub003/internal/conf"
	"github.com/dylanallan/genesiswebapp-sub003/internal/model"
	pkglog "github.com/dylanallan/genesiswebapp-sub003/pkg/log"
)

// DefaultRoute is the routing-table row serving unknown classifications.
const DefaultRoute = "default"

// chunkBuffer decouples the producer from a briefly slow consumer
// without holding a whole reply in memory.
const chunkBuffer = 16

// AskRequest is one classified completion request.
type AskRequest struct {
	Prompt         string
	Classification string
	Quality        string
	Urgency        string
	// Model overrides the candidate's configured model when set.
	Model string
}

type commitInfo struct {
	provider string
	model    string
}

// ReplyStream is the result of a routed completion: a lazy, finite,
// non-restartable chunk sequence served by exactly one provider.
// Intended for a single consumer goroutine.
type ReplyStream struct {
	// Provider and Model identify the candidate that served the stream.
	Provider string
	Model    string

	chunks <-chan model.StreamChunk
	errc   chan error
	cancel context.CancelFunc
	err    error
}

// Chunks returns the chunk channel. It is closed when the stream ends;
// Err then reports how it ended.
func (s *ReplyStream) Chunks() <-chan model.StreamChunk { return s.chunks }

// Err returns the terminal error, nil for a complete stream. Valid
// once Chunks is closed.
func (s *ReplyStream) Err() error {
	select {
	case err := <-s.errc:
		if err != nil {
			s.err = err
		}
	default:
	}
	return s.err
}

// Close abandons the stream and releases the producer. Safe after
// normal completion and safe to call more than once.
func (s *ReplyStream) Close() {
	s.cancel()
}

// ProviderRouter resolves a classified request to an ordered candidate
// list and serves the reply from the first provider that streams. A
// candidate is committed once its first chunk is forwarded; from then
// on there is no failover, a later failure terminates the stream.
type ProviderRouter struct {
	providers map[string]*ProviderDescriptor
	routes    map[string][]string
	manager   *BreakerManager
	invoker   ProviderInvoker
	audit     AuditTrail
	logger    *pkglog.LogHelper

	// requestTimeout bounds every single provider attempt.
	requestTimeout time.Duration
}

// NewProviderRouter builds the router from the configured providers and
// routing table.
func NewProviderRouter(c *conf.Router, providers []*conf.Provider, manager *BreakerManager, invoker ProviderInvoker, audit AuditTrail, logger log.Logger) (*ProviderRouter, error) {
	r := &ProviderRouter{
		providers:      make(map[string]*ProviderDescriptor, len(providers)),
		routes:         make(map[string][]string),
		manager:        manager,
		invoker:        invoker,
		audit:          audit,
		logger:         pkglog.NewLogHelper(logger),
		requestTimeout: 120 * time.Second,
	}
	if c != nil {
		if d := c.RequestTimeout.AsDuration(); d > 0 {
			r.requestTimeout = d
		}
		for class, ids := range c.Routes {
			r.routes[class] = append([]string(nil), ids...)
		}
	}
	for _, p := range providers {
		desc, err := newProviderDescriptor(p)
		if err != nil {
			return nil, err
		}
		r.providers[desc.ID] = desc
	}
	r.logger.Startup("provider router ready",
		"providers", len(r.providers),
		"routes", len(r.routes),
		"request_timeout", r.requestTimeout.String())
	return r, nil
}

// Ask resolves req to candidates and returns the reply stream of the
// first one that delivers, or a single terminal error once every
// candidate has been tried.
func (r *ProviderRouter) Ask(ctx context.Context, req *AskRequest) (*ReplyStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req == nil || req.Prompt == "" {
		return nil, newConfigurationError("prompt is required")
	}
	candidates := r.candidates(req.Classification)
	if len(candidates) == 0 {
		return nil, newFallbackExhaustedError(r.routeLabel(req.Classification), "", 0, nil)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	out := make(chan model.StreamChunk, chunkBuffer)
	errc := make(chan error, 1)
	committedCh := make(chan commitInfo, 1)
	go r.run(streamCtx, req, candidates, out, errc, committedCh)

	select {
	case info := <-committedCh:
		return newReplyStream(info, out, errc, cancel), nil
	case err := <-errc:
		// A commit can land just ahead of a post-commit failure; prefer
		// handing over the stream so the caller sees the chunks that
		// made it through, then the terminal error.
		select {
		case info := <-committedCh:
			errc <- err
			return newReplyStream(info, out, errc, cancel), nil
		default:
		}
		cancel()
		return nil, err
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

func newReplyStream(info commitInfo, out <-chan model.StreamChunk, errc chan error, cancel context.CancelFunc) *ReplyStream {
	return &ReplyStream{
		Provider: info.provider,
		Model:    info.model,
		chunks:   out,
		errc:     errc,
		cancel:   cancel,
	}
}

// run tries candidates in order until one commits or all are exhausted.
// It owns out: the channel is closed exactly once, on exit.
func (r *ProviderRouter) run(ctx context.Context, req *AskRequest, candidates []*ProviderDescriptor, out chan model.StreamChunk, errc chan<- error, committedCh chan<- commitInfo) {
	defer close(out)

	var lastErr error
	lastProvider := ""
	attempts := 0
	for _, p := range candidates {
		if ctx.Err() != nil {
			errc <- ctx.Err()
			return
		}
		attempts++
		lastProvider = p.ID
		committed, err := r.attempt(ctx, req, p, out, committedCh)
		if committed {
			if err != nil {
				errc <- err
			}
			return
		}
		lastErr = err
		if IsCircuitOpen(err) {
			r.logger.Fallback("provider skipped, breaker open",
				"provider", p.ID,
				"classification", req.Classification)
		} else {
			r.logger.Fallback("provider failed before commit, trying next",
				"provider", p.ID,
				"classification", req.Classification,
				"error", errString(err))
		}
	}
	if r.audit != nil {
		r.audit.LogFallbackExhausted(ctx, r.routeLabel(req.Classification), lastProvider, attempts, errString(lastErr))
	}
	errc <- newFallbackExhaustedError(r.routeLabel(req.Classification), lastProvider, attempts, lastErr)
}

// attempt runs one candidate under its breaker. It reports whether the
// candidate committed; the breaker sees the invoke and the full stream
// consumption as a single operation.
func (r *ProviderRouter) attempt(ctx context.Context, req *AskRequest, p *ProviderDescriptor, out chan<- model.StreamChunk, committedCh chan<- commitInfo) (bool, error) {
	cb := r.manager.GetBreaker(p.BreakerName())
	effModel := req.Model
	if effModel == "" {
		effModel = p.Model
	}

	start := time.Now()
	committed := false
	chunks, bytes := 0, 0
	err := cb.Execute(ctx, func(ctx context.Context) error {
		attemptCtx, cancelAttempt := context.WithTimeout(ctx, r.requestTimeout)
		defer cancelAttempt()

		stream, err := r.invoker.Stream(attemptCtx, r.chatRequest(ctx, req, p, effModel))
		if err != nil {
			return err
		}
		defer stream.Close()

		for {
			chunk, err := stream.Recv()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if !committed {
				committed = true
				if chunk.Model != "" {
					effModel = chunk.Model
				}
				pkglog.SetProvider(ctx, p.ID)
				committedCh <- commitInfo{provider: p.ID, model: effModel}
			}
			select {
			case out <- *chunk:
				chunks++
				bytes += len(chunk.Content)
			case <-attemptCtx.Done():
				return attemptCtx.Err()
			}
		}
	})

	elapsed := time.Since(start)
	r.auditAttempt(ctx, req, p, effModel, committed, err, chunks, bytes, elapsed)
	if committed && err == nil {
		r.logger.StreamStats(ctx, p.ID, effModel, chunks, int64(bytes), elapsed.Milliseconds())
	}
	if committed && err != nil {
		r.logger.Errorw("msg", "stream terminated after commit",
			"provider", p.ID,
			"chunks", chunks,
			"error", err.Error())
	}
	return committed, err
}

func (r *ProviderRouter) chatRequest(ctx context.Context, req *AskRequest, p *ProviderDescriptor, effModel string) *model.ChatRequest {
	return &model.ChatRequest{
		RequestID: pkglog.GetRequestID(ctx),
		Provider:  p.ID,
		BaseURL:   p.BaseURL,
		APIKey:    p.APIKey,
		Model:     effModel,
		ProxyURL:  p.proxyURL(),
		Prompt:    req.Prompt,
		Quality:   req.Quality,
		Urgency:   req.Urgency,
	}
}

// candidates resolves a classification to enabled provider descriptors,
// falling back to the default route for unknown classifications.
func (r *ProviderRouter) candidates(classification string) []*ProviderDescriptor {
	ids, ok := r.routes[classification]
	if !ok {
		ids = r.routes[DefaultRoute]
	}
	out := make([]*ProviderDescriptor, 0, len(ids))
	for _, id := range ids {
		p, ok := r.providers[id]
		if !ok || !p.Enabled {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (r *ProviderRouter) routeLabel(classification string) string {
	if _, ok := r.routes[classification]; ok {
		return classification
	}
	return DefaultRoute
}

func (r *ProviderRouter) auditAttempt(ctx context.Context, req *AskRequest, p *ProviderDescriptor, effModel string, committed bool, err error, chunks, bytes int, elapsed time.Duration) {
	if r.audit == nil {
		return
	}
	attempt := &model.ProviderAttempt{
		RequestID:      pkglog.GetRequestID(ctx),
		Classification: req.Classification,
		Provider:       p.ID,
		Model:          effModel,
		Served:         committed && err == nil,
		Committed:      committed,
		Chunks:         chunks,
		Bytes:          bytes,
		Duration:       elapsed,
		Err:            errString(err),
	}
	r.audit.LogProviderAttempt(ctx, attempt)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
