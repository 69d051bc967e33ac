package static

import (
	"context"
	"testing"

	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestUnmarshalCaddyfileInline(t *testing.T) {
	d := caddyfile.NewTestDispenser(`static https://tcm-proxy.internal:8443`)
	d.Next()

	sp := New()
	require.NoError(t, sp.UnmarshalCaddyfile(d))
	assert.Equal(t, "https://tcm-proxy.internal:8443", sp.URL)
	assert.NoError(t, sp.Validate())
}

func TestUnmarshalCaddyfileBlock(t *testing.T) {
	d := caddyfile.NewTestDispenser(`static {
		url http://10.0.0.1:8080
	}`)
	d.Next()

	sp := New()
	require.NoError(t, sp.UnmarshalCaddyfile(d))
	assert.Equal(t, "http://10.0.0.1:8080", sp.URL)
}

func TestValidate(t *testing.T) {
	sp := New()
	assert.NoError(t, sp.Validate())

	sp.URL = "ftp://x"
	assert.Error(t, sp.Validate())

	sp.URL = "http://"
	assert.Error(t, sp.Validate())
}

func TestEndpoint(t *testing.T) {
	sp := New()
	sp.URL = "http://10.0.0.1:8080"
	require.NoError(t, sp.Provision(zaptest.NewLogger(t)))

	addr, err := sp.Endpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:8080", addr)
}
