// ABOUTME: Tests for mDNS discovery
// ABOUTME: Tests answer parsing and manager setup without touching the network
package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "Test Server", Port: 8927})
	require.NotNil(t, mgr)

	mgr.Stop()
	assert.Error(t, mgr.ctx.Err())
}

func TestServerFromEntry(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:       "studio._loopsync-server._tcp.local.",
		AddrV4:     net.ParseIP("192.168.1.20"),
		Port:       8927,
		InfoFields: []string{"path=/api/sync"},
	}

	info := serverFromEntry(entry)
	require.NotNil(t, info)
	assert.Equal(t, "studio", info.Name)
	assert.Equal(t, "192.168.1.20", info.Host)
	assert.Equal(t, "/api/sync", info.Path)
	assert.Equal(t, "http://192.168.1.20:8927", info.URL())
}

func TestServerFromEntrySkipsUnusable(t *testing.T) {
	assert.Nil(t, serverFromEntry(nil))
	assert.Nil(t, serverFromEntry(&mdns.ServiceEntry{
		Name: "studio._loopsync-server._tcp.local.",
		Port: 8927,
	}), "answers without an IPv4 address are skipped")
	assert.Nil(t, serverFromEntry(&mdns.ServiceEntry{
		Name:   "printer._ipp._tcp.local.",
		AddrV4: net.ParseIP("192.168.1.30"),
		Port:   631,
	}))
}

func TestTxtValue(t *testing.T) {
	fields := []string{"version=1", "path=/custom/sync"}

	assert.Equal(t, "/custom/sync", txtValue(fields, "path", "/api/sync"))
	assert.Equal(t, "1", txtValue(fields, "version", ""))
	assert.Equal(t, "/api/sync", txtValue(nil, "path", "/api/sync"))
}
