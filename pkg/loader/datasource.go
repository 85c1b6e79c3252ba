package loader

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/valyala/fasthttp"
)

// TokenSigner produces an Authorization header value for outbound requests.
// Implemented by pkg/auth for HS256-signed bearer tokens; nil means no auth
// header is attached.
type TokenSigner interface {
	SignedAuthorizationHeader() (string, error)
}

// HTTPStatusError is returned by HTTPDataSource.Fetch for a non-2xx, non-3xx
// response, so callers can inspect the status code (e.g. to detect the 400
// and 503 responses that force a non-directive reload on a blocking
// request) without parsing the error string.
type HTTPStatusError struct {
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http response code (%d)", e.Code)
}

// HTTPDataSource is the production DataSource, built on fasthttp the way
// the rest of this codebase talks to upstream servers: a pooled client,
// manual redirect following, and content-type negotiation via contenttype.
type HTTPDataSource struct {
	client       *fasthttp.Client
	signer       TokenSigner
	maxRedirects int
}

// NewHTTPDataSource returns a data source with the given per-request
// timeout. signer may be nil.
func NewHTTPDataSource(timeout time.Duration, signer TokenSigner) *HTTPDataSource {
	return &HTTPDataSource{
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		signer:       signer,
		maxRedirects: 10,
	}
}

func (h *HTTPDataSource) Fetch(ctx context.Context, uri string, headers map[string]string, gzip bool) ([]byte, int, string, error) {
	currentURL := uri

	for i := 0; i < h.maxRedirects; i++ {
		select {
		case <-ctx.Done():
			return nil, 0, "", ctx.Err()
		default:
		}

		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()

		req.SetRequestURI(currentURL)
		req.Header.SetMethod(fasthttp.MethodGet)
		if gzip {
			req.Header.Set(fasthttp.HeaderAcceptEncoding, "gzip")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if h.signer != nil {
			if authHeader, err := h.signer.SignedAuthorizationHeader(); err == nil && authHeader != "" {
				req.Header.Set(fasthttp.HeaderAuthorization, authHeader)
			}
		}

		err, owned := h.doWithContext(ctx, req, resp)
		if err != nil {
			if owned {
				fasthttp.ReleaseRequest(req)
				fasthttp.ReleaseResponse(resp)
			}
			return nil, 0, "", err
		}

		status := resp.StatusCode()
		mediaType := contenttype.NewMediaType(string(resp.Header.ContentType()))
		contentType := mediaType.String()

		if status/100 == 3 {
			location := resp.Header.Peek(fasthttp.HeaderLocation)
			if len(location) == 0 {
				fasthttp.ReleaseRequest(req)
				fasthttp.ReleaseResponse(resp)
				return nil, status, contentType, fmt.Errorf("redirect response missing Location header")
			}
			currentURL = resolveRedirect(currentURL, string(location))
			fasthttp.ReleaseRequest(req)
			fasthttp.ReleaseResponse(resp)
			continue
		}

		if status/100 != 2 {
			fasthttp.ReleaseRequest(req)
			fasthttp.ReleaseResponse(resp)
			return nil, status, contentType, &HTTPStatusError{Code: status}
		}

		raw := resp.Body()
		if gzip && string(resp.Header.ContentEncoding()) == "gzip" {
			if raw, err = resp.BodyGunzip(); err != nil {
				fasthttp.ReleaseRequest(req)
				fasthttp.ReleaseResponse(resp)
				return nil, status, contentType, err
			}
		}
		body := append([]byte(nil), raw...)
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
		return body, status, contentType, nil
	}

	return nil, 0, "", fmt.Errorf("too many redirects fetching %s", uri)
}

// doWithContext runs the fasthttp call on its own goroutine so ctx
// cancellation (driver stop / bundle release) can abandon it promptly;
// fasthttp itself has no context-aware Do. When ctx wins the race, req and
// resp are still owned by the in-flight call: the caller must not release
// them (owned=false); a trailing goroutine releases them once Do returns.
func (h *HTTPDataSource) doWithContext(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) (err error, owned bool) {
	done := make(chan error, 1)
	go func() {
		done <- h.client.Do(req, resp)
	}()
	select {
	case <-ctx.Done():
		go func() {
			<-done
			fasthttp.ReleaseRequest(req)
			fasthttp.ReleaseResponse(resp)
		}()
		return ctx.Err(), false
	case err := <-done:
		return err, true
	}
}

func resolveRedirect(currentURL, location string) string {
	if strings.HasPrefix(location, "http") {
		return location
	}
	base, err := url.Parse(currentURL)
	if err != nil {
		return location
	}
	ref, err := url.Parse(location)
	if err != nil {
		return location
	}
	return base.ResolveReference(ref).String()
}
