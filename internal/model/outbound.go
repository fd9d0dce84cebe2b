package model

// OutboundRequest is one HTTP exchange with a third-party data source,
// resolved down to plain transport fields. The gateway builds it from
// the source descriptor; the fetcher only executes it.
type OutboundRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	// ProxyURL routes the request through a SOCKS5 or HTTP proxy when set.
	ProxyURL string
}

// OutboundResponse is the raw answer of a data-source exchange.
type OutboundResponse struct {
	Status int
	Body   []byte
}
