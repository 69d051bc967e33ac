package nacos

import (
	"testing"

	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
	"github.com/nacos-group/nacos-sdk-go/v2/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalCaddyfile(t *testing.T) {
	d := caddyfile.NewTestDispenser(`nacos {
		server_addr 10.0.0.5
		server_port 8848
		namespace_id prod
		service_name tcm-proxy
		clusters a b
	}`)
	d.Next()

	np := New()
	require.NoError(t, np.UnmarshalCaddyfile(d))
	assert.Equal(t, "10.0.0.5", np.ServerAddr)
	assert.Equal(t, uint64(8848), np.ServerPort)
	assert.Equal(t, "prod", np.NamespaceID)
	assert.Equal(t, "DEFAULT_GROUP", np.GroupName)
	assert.Equal(t, []string{"a", "b"}, np.Clusters)
	assert.NoError(t, np.Validate())
}

func TestUnmarshalCaddyfileBadPort(t *testing.T) {
	d := caddyfile.NewTestDispenser(`nacos {
		server_port abc
	}`)
	d.Next()
	assert.Error(t, New().UnmarshalCaddyfile(d))
}

func TestValidateRequiresServer(t *testing.T) {
	np := New()
	assert.ErrorContains(t, np.Validate(), "server_addr")
	np.ServerAddr = "10.0.0.5"
	assert.ErrorContains(t, np.Validate(), "server_port")
}

func TestEndpointsFromInstances(t *testing.T) {
	got := endpointsFromInstances("https", []model.Instance{
		{Ip: "10.0.0.1", Port: 80, Enable: true, Healthy: true},
		{Ip: "10.0.0.2", Port: 80, Enable: false, Healthy: true},
		{Ip: "10.0.0.3", Port: 80, Enable: true, Healthy: false},
	})
	assert.Equal(t, []string{"https://10.0.0.1:80"}, got)
}
