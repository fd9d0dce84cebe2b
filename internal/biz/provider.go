package biz

import (
	"context"
	"fmt"

	"github.com/dylanallan/genesiswebapp-sub003/internal/conf"
	"github.com/dylanallan/genesiswebapp-sub003/internal/model"
	"github.com/dylanallan/genesiswebapp-sub003/pkg/metadata"
)

// ProviderDescriptor is one configured AI provider endpoint with its
// parsed metadata.
type ProviderDescriptor struct {
	ID      string
	BaseURL string
	APIKey  string
	Model   string
	Enabled bool
	// Breaker overrides the breaker name; empty means "ai-"+ID.
	Breaker  string
	Metadata *metadata.DescriptorMetadata
}

// newProviderDescriptor builds a descriptor from configuration. The
// metadata JSON must parse; a provider with broken metadata is a
// startup error, not a runtime surprise.
func newProviderDescriptor(p *conf.Provider) (*ProviderDescriptor, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("provider with empty id")
	}
	md, err := metadata.Parse(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("provider %q metadata: %w", p.ID, err)
	}
	return &ProviderDescriptor{
		ID:       p.ID,
		BaseURL:  p.BaseURL,
		APIKey:   p.APIKey,
		Model:    p.Model,
		Enabled:  p.Enabled,
		Breaker:  p.Breaker,
		Metadata: md,
	}, nil
}

// BreakerName returns the name of the breaker guarding this provider.
func (d *ProviderDescriptor) BreakerName() string {
	if d.Breaker != "" {
		return d.Breaker
	}
	return "ai-" + d.ID
}

func (d *ProviderDescriptor) proxyURL() string {
	if d.Metadata != nil && d.Metadata.ProxyEnabled {
		return d.Metadata.ProxyURL
	}
	return ""
}

// ProviderInvoker defines the interface for opening a streamed
// completion against one provider. Following Kratos v2 DDD architecture
// the interface lives in biz; the SSE implementation lives in data.
type ProviderInvoker interface {
	// Stream opens the completion. The returned stream yields chunks
	// until io.EOF; the caller owns Close.
	Stream(ctx context.Context, req *model.ChatRequest) (model.ChunkStream, error)
}
