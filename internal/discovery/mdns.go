// ABOUTME: mDNS service discovery for loopsync servers
// ABOUTME: Servers advertise the sync endpoint, players browse for the first answer
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/loopsync/loopsync-go/internal/protocol"
)

// ServiceType is the mDNS service a loopsync server advertises.
const ServiceType = "_loopsync-server._tcp"

// DefaultBrowseTimeout bounds FindServer when the caller has no deadline.
const DefaultBrowseTimeout = 10 * time.Second

const queryTimeout = 2 * time.Second

// ErrNoServer is returned when browsing ends without an answer.
var ErrNoServer = errors.New("no loopsync server found")

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
}

// Manager advertises a server via mDNS
type Manager struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc
}

// ServerInfo describes a discovered server
type ServerInfo struct {
	Name string
	Host string
	Port int
	Path string
}

// URL returns the http base url of the server.
func (s *ServerInfo) URL() string {
	return "http://" + net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Advertise announces the server until Stop is called
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		[]string{"path=" + protocol.SyncPath},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising mDNS service: %s on port %d (type: %s)", m.config.ServiceName, m.config.Port, ServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Stop stops advertising
func (m *Manager) Stop() {
	m.cancel()
}

// FindServer browses until the first server answers or ctx ends. Without a
// ctx deadline it gives up after DefaultBrowseTimeout.
func FindServer(ctx context.Context) (*ServerInfo, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultBrowseTimeout)
		defer cancel()
	}

	for {
		if info := queryOnce(); info != nil {
			log.Printf("Discovered server: %s at %s", info.Name, info.URL())
			return info, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrNoServer, ctx.Err())
		default:
		}
	}
}

// queryOnce runs one mDNS query and returns the first usable answer.
func queryOnce() *ServerInfo {
	entries := make(chan *mdns.ServiceEntry, 10)
	found := make(chan *ServerInfo, 1)

	go func() {
		defer close(found)
		for entry := range entries {
			if info := serverFromEntry(entry); info != nil {
				select {
				case found <- info:
				default:
				}
			}
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Timeout = queryTimeout
	params.Entries = entries
	params.DisableIPv6 = true

	if err := mdns.Query(params); err != nil {
		log.Printf("mDNS query failed: %v", err)
	}
	close(entries)

	return <-found
}

// serverFromEntry converts an answer, skipping ones for other services.
func serverFromEntry(entry *mdns.ServiceEntry) *ServerInfo {
	if entry == nil || entry.AddrV4 == nil || !strings.Contains(entry.Name, ServiceType) {
		return nil
	}

	return &ServerInfo{
		Name: strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
		Host: entry.AddrV4.String(),
		Port: entry.Port,
		Path: txtValue(entry.InfoFields, "path", protocol.SyncPath),
	}
}

// txtValue returns key's value from TXT fields, or def.
func txtValue(fields []string, key, def string) string {
	prefix := key + "="
	for _, f := range fields {
		if strings.HasPrefix(f, prefix) {
			return strings.TrimPrefix(f, prefix)
		}
	}
	return def
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
