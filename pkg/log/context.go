package log

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// contextKey is the private key type used to store RequestContext values.
type contextKey string

const requestContextKey contextKey = "relay_request_context"

// RequestContext carries per-request trace information across the relay,
// gateway and breaker layers so a single outbound call can be followed
// through every log line it produces.
type RequestContext struct {
	RequestID      string                 // short random ID, e.g. mgrn0zfqda
	Classification string                 // request classification driving provider routing
	Provider       string                 // provider serving the request, set once committed
	SourceID       string                 // data source for gateway calls
	StartTime      time.Time              // request start time
	Metadata       map[string]interface{} // extension metadata
}

var (
	randSource = rand.NewSource(time.Now().UnixNano())
	randMutex  sync.Mutex
	// base36 charset (lowercase letters + digits)
	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateRequestID generates a 10 character random request ID.
// base36 keeps it short enough to prefix every log line without the
// overhead of a full UUID.
func GenerateRequestID() string {
	randMutex.Lock()
	defer randMutex.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}

// WithRequestContext injects a RequestContext into the Context.
// Called by the HTTP logging filter at the start of every request.
func WithRequestContext(ctx context.Context, requestID, classification string) context.Context {
	reqCtx := &RequestContext{
		RequestID:      requestID,
		Classification: classification,
		StartTime:      time.Now(),
		Metadata:       make(map[string]interface{}),
	}
	return context.WithValue(ctx, requestContextKey, reqCtx)
}

// GetRequestContext extracts the RequestContext from the Context.
// Returns a default empty RequestContext when none is present, so callers
// never need a nil check.
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx == nil {
		return &RequestContext{
			RequestID: "unknown",
			Metadata:  make(map[string]interface{}),
		}
	}

	if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
		return reqCtx
	}

	return &RequestContext{
		RequestID: "unknown",
		Metadata:  make(map[string]interface{}),
	}
}

// GetRequestID extracts the Request ID from the Context.
func GetRequestID(ctx context.Context) string {
	return GetRequestContext(ctx).RequestID
}

// GetClassification extracts the request classification from the Context.
func GetClassification(ctx context.Context) string {
	return GetRequestContext(ctx).Classification
}

// SetProvider records the provider that ended up serving the request.
// Set by the router when a candidate commits.
func SetProvider(ctx context.Context, provider string) {
	GetRequestContext(ctx).Provider = provider
}

// SetSourceID records the data source a gateway call targets.
func SetSourceID(ctx context.Context, sourceID string) {
	GetRequestContext(ctx).SourceID = sourceID
}

// SetMetadata sets an entry in the RequestContext metadata.
func SetMetadata(ctx context.Context, key string, value interface{}) {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.Metadata == nil {
		reqCtx.Metadata = make(map[string]interface{})
	}
	reqCtx.Metadata[key] = value
}

// GetMetadata reads an entry from the RequestContext metadata.
func GetMetadata(ctx context.Context, key string) (interface{}, bool) {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.Metadata == nil {
		return nil, false
	}
	value, ok := reqCtx.Metadata[key]
	return value, ok
}

// GetElapsedTime returns milliseconds elapsed since the request started.
func GetElapsedTime(ctx context.Context) int64 {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.StartTime.IsZero() {
		return 0
	}
	return time.Since(reqCtx.StartTime).Milliseconds()
}
