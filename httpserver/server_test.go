package httpserver

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_Drain(t *testing.T) {
	h, m := newChainHandler(t)
	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      testLogger(),
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, h)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.getRouter())
	defer ts.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode, readAll(t, resp)
	}
	post := func() int {
		body := fmt.Sprintf(`{"nft_contract":"%s","token_id":"1"}`, testNFT.Hex())
		resp, err := http.Post(ts.URL+"/api/v1/account", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	code, body := get("/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"alive"}`, body)

	code, _ = get("/readyz")
	assert.Equal(t, http.StatusOK, code)

	_, body = get("/drain")
	assert.JSONEq(t, `{"status":"draining"}`, body)
	_, body = get("/drain")
	assert.JSONEq(t, `{"status":"already draining"}`, body)

	code, _ = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, http.StatusServiceUnavailable, post())
	assert.Equal(t, 0, m.AccountsCreated())

	// derivation stays available while draining
	code, _ = get("/api/v1/account?nft_contract=" + testNFT.Hex() + "&token_id=1")
	assert.Equal(t, http.StatusOK, code)

	_, body = get("/undrain")
	assert.JSONEq(t, `{"status":"ready"}`, body)
	assert.Equal(t, http.StatusCreated, post())
	assert.Equal(t, 1, m.AccountsCreated())

	code, _ = get("/debug/pprof/")
	assert.Equal(t, http.StatusNotFound, code)
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	buf := new(strings.Builder)
	_, err := io.Copy(buf, resp.Body)
	require.NoError(t, err)
	return buf.String()
}
