package biz

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-kratos/kratos/v2/log"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/dylanallan/genesiswebapp-sub003/internal/conf"
	pkglog "github.com/dylanallan/genesiswebapp-sub003/pkg/log"
	"github.com/dylanallan/genesiswebapp-sub003/pkg/metadata"
)

// Auth types a data source may declare.
const (
	AuthNone   = "none"
	AuthAPIKey = "api-key"
	AuthOAuth  = "oauth"
	AuthBearer = "bearer"
)

// SourceTypeAPI marks sources reached over HTTP; only these require a
// base URL.
const SourceTypeAPI = "api"

// DataSource describes one registered third-party source. Instances
// held by the registry are immutable; toggling replaces the entry.
type DataSource struct {
	ID          string
	Name        string
	Description string
	Type        string
	BaseURL     string
	AuthType    string
	APIKey      string
	// RateLimit is the call budget in calls per second. Zero means
	// unlimited.
	RateLimit  float64
	Enabled    bool
	Categories []string
	Metadata   *metadata.DescriptorMetadata
}

// Validate checks the descriptor against the registration rules.
func (s *DataSource) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.ID, validation.Required),
		validation.Field(&s.Name, validation.Required),
		validation.Field(&s.Description, validation.Required),
		validation.Field(&s.Type, validation.Required),
		validation.Field(&s.BaseURL,
			validation.Required.When(s.Type == SourceTypeAPI),
			is.URL,
		),
		validation.Field(&s.AuthType,
			validation.In(AuthNone, AuthAPIKey, AuthOAuth, AuthBearer),
		),
		validation.Field(&s.RateLimit, validation.Min(0.0)),
		validation.Field(&s.Categories, validation.Required, validation.Length(1, 0)),
	)
}

func (s *DataSource) clone() *DataSource {
	c := *s
	c.Categories = append([]string(nil), s.Categories...)
	return &c
}

func (s *DataSource) hasCategory(category string) bool {
	for _, c := range s.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// UseCase groups sources serving one research scenario.
type UseCase struct {
	ID          string
	Name        string
	Description string
	Categories  []string
	Sources     []string
}

// Validate checks the use case against the registration rules.
func (u *UseCase) Validate() error {
	return validation.ValidateStruct(u,
		validation.Field(&u.ID, validation.Required),
		validation.Field(&u.Name, validation.Required),
		validation.Field(&u.Categories, validation.Required, validation.Length(1, 0)),
		validation.Field(&u.Sources, validation.Required, validation.Length(1, 0)),
	)
}

// SourceRegistry holds the configured data sources and use cases.
// Registration happens at startup; afterwards only the enabled flag of
// a source changes.
type SourceRegistry struct {
	mu       sync.RWMutex
	sources  map[string]*DataSource
	useCases map[string]*UseCase

	audit  AuditTrail
	logger *pkglog.LogHelper
}

// NewSourceRegistry builds the registry from configuration. Any invalid
// descriptor or dangling use-case member fails startup.
func NewSourceRegistry(sources []*conf.Source, useCases []*conf.UseCase, audit AuditTrail, logger log.Logger) (*SourceRegistry, error) {
	r := &SourceRegistry{
		sources:  make(map[string]*DataSource, len(sources)),
		useCases: make(map[string]*UseCase, len(useCases)),
		audit:    audit,
		logger:   pkglog.NewLogHelper(logger),
	}
	for _, s := range sources {
		ds, err := newDataSource(s)
		if err != nil {
			return nil, err
		}
		if err := r.RegisterSource(ds); err != nil {
			return nil, err
		}
	}
	for _, u := range useCases {
		uc := &UseCase{
			ID:          u.ID,
			Name:        u.Name,
			Description: u.Description,
			Categories:  append([]string(nil), u.Categories...),
			Sources:     append([]string(nil), u.Sources...),
		}
		if err := r.RegisterUseCase(uc); err != nil {
			return nil, err
		}
	}
	r.logger.Registry("source registry loaded",
		"sources", len(r.sources),
		"use_cases", len(r.useCases))
	return r, nil
}

func newDataSource(s *conf.Source) (*DataSource, error) {
	md, err := metadata.Parse(s.Metadata)
	if err != nil {
		return nil, fmt.Errorf("source %q metadata: %w", s.ID, err)
	}
	return &DataSource{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		Type:        s.Type,
		BaseURL:     s.BaseURL,
		AuthType:    s.AuthType,
		APIKey:      s.APIKey,
		RateLimit:   s.RateLimit,
		Enabled:     s.Enabled,
		Categories:  append([]string(nil), s.Categories...),
		Metadata:    md,
	}, nil
}

// RegisterSource validates and stores a source. Registering an existing
// id replaces the descriptor.
func (r *SourceRegistry) RegisterSource(s *DataSource) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("source %q: %w", s.ID, err)
	}
	if s.Metadata != nil {
		if err := s.Metadata.Validate(); err != nil {
			return fmt.Errorf("source %q metadata: %w", s.ID, err)
		}
	}
	r.mu.Lock()
	r.sources[s.ID] = s.clone()
	r.mu.Unlock()
	return nil
}

// RegisterUseCase validates and stores a use case. Every member source
// must already be registered.
func (r *SourceRegistry) RegisterUseCase(u *UseCase) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("use case %q: %w", u.ID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range u.Sources {
		if _, ok := r.sources[id]; !ok {
			return fmt.Errorf("use case %q references unknown source %q", u.ID, id)
		}
	}
	r.useCases[u.ID] = u
	return nil
}

// GetSource returns the source descriptor for id.
func (r *SourceRegistry) GetSource(id string) (*DataSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[id]
	return s, ok
}

// GetUseCase returns the use case for id.
func (r *SourceRegistry) GetUseCase(id string) (*UseCase, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.useCases[id]
	return u, ok
}

// GetAllSources returns every source sorted by id.
func (r *SourceRegistry) GetAllSources() []*DataSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*DataSource, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetAllUseCases returns every use case sorted by id.
func (r *SourceRegistry) GetAllUseCases() []*UseCase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*UseCase, 0, len(r.useCases))
	for _, u := range r.useCases {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetSourcesByCategory returns every source carrying category, sorted
// by id.
func (r *SourceRegistry) GetSourcesByCategory(category string) []*DataSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*DataSource
	for _, s := range r.sources {
		if s.hasCategory(category) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetSourcesByTag returns every source whose metadata carries tag,
// sorted by id.
func (r *SourceRegistry) GetSourcesByTag(tag string) []*DataSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*DataSource
	for _, s := range r.sources {
		if s.Metadata != nil && s.Metadata.HasTag(tag) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetUseCaseSources resolves a use case to its member sources, in the
// order the use case lists them.
func (r *SourceRegistry) GetUseCaseSources(id string) ([]*DataSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.useCases[id]
	if !ok {
		return nil, false
	}
	out := make([]*DataSource, 0, len(u.Sources))
	for _, sid := range u.Sources {
		if s, ok := r.sources[sid]; ok {
			out = append(out, s)
		}
	}
	return out, true
}

// SetSourceEnabled toggles a source. The stored descriptor is replaced,
// never mutated, so concurrent readers keep a consistent view. It
// reports whether the source exists.
func (r *SourceRegistry) SetSourceEnabled(ctx context.Context, id string, enabled bool) bool {
	r.mu.Lock()
	s, ok := r.sources[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if s.Enabled == enabled {
		r.mu.Unlock()
		return true
	}
	next := s.clone()
	next.Enabled = enabled
	r.sources[id] = next
	r.mu.Unlock()

	r.logger.Registry("source toggled", "source_id", id, "enabled", enabled)
	if r.audit != nil {
		r.audit.LogSourceToggled(ctx, id, enabled)
	}
	return true
}
