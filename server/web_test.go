package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSession_WebPages(t *testing.T) {
	s := NewWithExchanger(newTestConfig(t), zerolog.Nop(), testOAuthConfig(), &fakeCodeExchanger{})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	baseURL := "http://" + s.webLn.Addr().String()

	get := func(t *testing.T, path string) (*http.Response, string) {
		t.Helper()
		resp, err := http.Get(baseURL + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		resp.Body.Close()
		return resp, string(body)
	}

	t.Run("instructions page links certificate and login URL", func(t *testing.T) {
		resp, body := get(t, "/")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, body, `href="/ca.crt"`)
		require.Contains(t, body, "auth.vendorcloud.com")
	})

	t.Run("certificate download", func(t *testing.T) {
		resp, body := get(t, "/ca.crt")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.True(t, strings.HasPrefix(body, "-----BEGIN CERTIFICATE-----"))
	})

	t.Run("success page", func(t *testing.T) {
		resp, body := get(t, "/success")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, body, "Login successful")
	})
}
