// Package httpx is a small client-side HTTP abstraction so the REST
// client can run on either net/http or fasthttp without caring which.
package httpx

import (
	"context"
	"io"
	"net/http"
)

// Request is the unified outbound request representation.
type Request struct {
	Method string
	URL    string
	Header http.Header
	// Body may be nil. It is streamed where the backend supports it.
	Body io.Reader
}

// Response is a fully-read response. Engine payloads are small (message
// records, id lists), so buffering the body is fine.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Doer executes one HTTP request. Implementations must honor ctx
// cancellation where their underlying client supports it.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}
