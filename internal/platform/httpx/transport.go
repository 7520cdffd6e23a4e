// Package httpx owns the outbound HTTP transport shared by every platform probe.
package httpx

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/xXDeath420Xx/livebot/internal/platform/version"
)

// Transport is a RoundTripper whose underlying *http.Transport can be rebuilt after a connection storm
// without replacing the clients holding it.
type Transport struct {
	mu    sync.RWMutex
	inner *http.Transport
}

func NewTransport() *Transport {
	return &Transport{}
}

func (t *Transport) current() *http.Transport {
	t.mu.RLock()
	inner := t.inner
	t.mu.RUnlock()
	if inner != nil {
		return inner
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inner == nil {
		t.inner = newInner()
	}
	return t.inner
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", version.UserAgent())
	}
	return t.current().RoundTrip(req)
}

// Reset drops pooled connections. The next request builds a fresh transport.
func (t *Transport) Reset() {
	t.mu.Lock()
	old := t.inner
	t.inner = nil
	t.mu.Unlock()

	if old != nil {
		old.CloseIdleConnections()
	}
}

// Client returns an *http.Client using the shared transport.
func (t *Transport) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

func newInner() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
