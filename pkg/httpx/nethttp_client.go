package httpx

import (
	"context"
	"io"
	"net/http"
	"time"
)

// NetHTTPDoer executes requests with a standard *http.Client.
type NetHTTPDoer struct {
	Client *http.Client
}

// NewNetHTTPDoer builds a Doer with the given timeout (0 means none).
func NewNetHTTPDoer(timeout time.Duration) *NetHTTPDoer {
	return &NetHTTPDoer{Client: &http.Client{Timeout: timeout}}
}

func (d *NetHTTPDoer) Do(ctx context.Context, req *Request) (*Response, error) {
	hr, err := http.NewRequestWithContext(ctx, req.Method, req.URL, req.Body)
	if err != nil {
		return nil, err
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			hr.Header.Add(k, v)
		}
	}
	res, err := d.Client.Do(hr)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	return &Response{Status: res.StatusCode, Header: res.Header.Clone(), Body: body}, nil
}
