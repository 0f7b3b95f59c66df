package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
)

// FastHTTPDoer executes requests with a fasthttp.Client. fasthttp has no
// per-request context plumbing, so cancellation is approximated with the
// deadline derived from ctx.
type FastHTTPDoer struct {
	Client  *fasthttp.Client
	Timeout time.Duration
}

func NewFastHTTPDoer(timeout time.Duration) *FastHTTPDoer {
	return &FastHTTPDoer{Client: &fasthttp.Client{}, Timeout: timeout}
}

func (d *FastHTTPDoer) Do(ctx context.Context, req *Request) (*Response, error) {
	freq := fasthttp.AcquireRequest()
	fres := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(freq)
	defer fasthttp.ReleaseResponse(fres)

	freq.Header.SetMethod(req.Method)
	freq.SetRequestURI(req.URL)
	for k, vals := range req.Header {
		for _, v := range vals {
			freq.Header.Add(k, v)
		}
	}
	if req.Body != nil {
		freq.SetBodyStream(req.Body, -1)
	}

	timeout := d.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); timeout == 0 || until < timeout {
			timeout = until
		}
	}
	var err error
	if timeout > 0 {
		err = d.Client.DoTimeout(freq, fres, timeout)
	} else {
		err = d.Client.Do(freq, fres)
	}
	if err != nil {
		return nil, err
	}

	hdr := make(http.Header)
	fres.Header.VisitAll(func(k, v []byte) {
		hdr.Add(string(k), string(v))
	})
	body := append([]byte(nil), fres.Body()...)
	return &Response{Status: fres.StatusCode(), Header: hdr, Body: body}, nil
}
