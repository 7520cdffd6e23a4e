package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_SetsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewTransport().Client(time.Second)
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Contains(t, gotUA, "livebot/")
}

func TestTransport_KeepsExplicitUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "custom")

	resp, err := NewTransport().Client(time.Second).Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "custom", gotUA)
}

func TestTransport_ResetRebuilds(t *testing.T) {
	tr := NewTransport()
	first := tr.current()
	assert.Same(t, first, tr.current())

	tr.Reset()
	second := tr.current()
	assert.NotSame(t, first, second)
}
