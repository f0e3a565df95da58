// Package proxy forwards gateway requests to a backing service.
package proxy

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/diagnosis/community-hub/pkg/logger"
	"github.com/diagnosis/community-hub/pkg/response"
)

var hopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"proxy-connection":    true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

type ServiceProxy struct {
	name    string
	baseURL *url.URL
	client  *http.Client
}

func NewServiceProxy(name, baseURL string) (*ServiceProxy, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid %s service url %q", name, baseURL)
	}
	return &ServiceProxy{
		name:    name,
		baseURL: u,
		client: &http.Client{
			Timeout: 30 * time.Second,
			// Redirects belong to the browser, not the gateway.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}, nil
}

// Forward sends r to path on the backing service, keeping the query string,
// and copies the response back verbatim, Set-Cookie included.
func (p *ServiceProxy) Forward(w http.ResponseWriter, r *http.Request, path string) {
	ctx := r.Context()
	target := *p.baseURL
	target.Path = p.baseURL.Path + path
	target.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		response.InternalError(w, err, false)
		return
	}
	req.ContentLength = r.ContentLength
	copyHeaders(req.Header, r.Header)

	if requestID, ok := ctx.Value(logger.RequestIDKey).(string); ok {
		req.Header.Set("X-Request-ID", requestID)
	}
	// RemoteAddr is already the client as far as the gateway trusts it;
	// anything the client claimed about itself is replaced.
	client := clientIP(r.RemoteAddr)
	req.Header.Del("True-Client-IP")
	req.Header.Set("X-Real-IP", client)
	req.Header.Set("X-Forwarded-For", client)
	req.Header.Set("X-Gateway-Forwarded", "true")

	logger.DebugContext(ctx, "Proxying request", "service", p.name, "method", r.Method, "url", target.String())

	resp, err := p.client.Do(req)
	if err != nil {
		logger.ErrorContext(ctx, "Service proxy error", "service", p.name, "error", err, "path", path)
		response.WriteError(w, http.StatusBadGateway, "Service unavailable", response.CodeUnavailable)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.ErrorContext(ctx, "Failed to copy response body", "service", p.name, "error", err)
	}
}

func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopHeaders[strings.ToLower(key)] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
