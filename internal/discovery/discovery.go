// Package discovery advertises this host on the LAN via mDNS and maintains
// a table of peers seen by periodically browsing for the same service.
package discovery

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/digster/lan-file-transfer/internal/constants"
	"github.com/digster/lan-file-transfer/internal/events"
	"github.com/digster/lan-file-transfer/internal/logging"
	"github.com/digster/lan-file-transfer/internal/netutil"
)

// Peer is a device seen advertising the transfer service on the LAN.
// Identity is (Address, Port); Name is descriptive only.
type Peer struct {
	Name        string
	Address     string
	Port        int
	Version     string
	LastSeen    time.Time
}

func (p Peer) key() string {
	return fmt.Sprintf("%s:%d", p.Address, p.Port)
}

// Service advertises this host's receiver and browses for other peers.
type Service struct {
	log *logging.Logger
	bus *events.Bus

	name string
	port int

	mu      sync.RWMutex
	peers   map[string]Peer
	stopCh  chan struct{}
	wg      sync.WaitGroup
	closeAd func()
}

// New creates a discovery Service that will advertise the given TCP port
// under the given display name once Start is called.
func New(bus *events.Bus, name string, port int) *Service {
	return &Service{
		log:   logging.NewWithComponent("discovery"),
		bus:   bus,
		name:  name,
		port:  port,
		peers: make(map[string]Peer),
	}
}

// Start registers the mDNS advertisement and begins periodic browsing for
// peers on a background goroutine. It returns once advertising is live.
func (s *Service) Start() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("discover local IPs: %w", err)
	}
	if len(ips) == 0 {
		return fmt.Errorf("no usable local IP address to advertise")
	}

	host := netutil.FriendlyDeviceName()
	txt := []string{
		"version=" + constants.ProtocolVersion,
		"device=" + s.name,
	}

	service, err := mdns.NewMDNSService(s.name, constants.ServiceType, constants.ServiceDomain, host+".", s.port, ips, txt)
	if err != nil {
		return fmt.Errorf("build mDNS service record: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("start mDNS server: %w", err)
	}
	s.closeAd = func() { server.Shutdown() }
	s.log.Info().Str("name", s.name).Int("port", s.port).Msg("advertising on LAN")

	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.browseLoop()
	return nil
}

// Stop deregisters the mDNS advertisement and halts browsing.
func (s *Service) Stop() {
	if s.stopCh != nil {
		close(s.stopCh)
		s.wg.Wait()
	}
	if s.closeAd != nil {
		s.closeAd()
	}
}

// Peers returns a snapshot of currently known peers, one per "address:port",
// in no particular order.
func (s *Service) Peers() []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

func (s *Service) browseLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(constants.BrowseInterval)
	defer ticker.Stop()

	s.browseOnce()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.browseOnce()
			s.expireStale()
		}
	}
}

func (s *Service) browseOnce() {
	entries := make(chan *mdns.ServiceEntry, 16)
	seen := make(map[string]bool)

	self := make(map[string]bool)
	if ips, err := getLocalIPs(); err == nil {
		for _, ip := range ips {
			self[fmt.Sprintf("%s:%d", ip, s.port)] = true
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			p, ok := entryToPeer(entry)
			if !ok || self[p.key()] {
				continue
			}
			seen[p.key()] = true
			s.upsert(p)
		}
	}()

	params := &mdns.QueryParam{
		Service:             constants.ServiceType,
		Domain:              strings.TrimSuffix(constants.ServiceDomain, "."),
		Timeout:             constants.BrowseInterval / 2,
		Entries:             entries,
		WantUnicastResponse: true,
	}
	if err := mdns.Query(params); err != nil {
		s.log.Warn().Err(err).Msg("mDNS browse failed")
	}
	close(entries)
	<-done
}

func (s *Service) upsert(p Peer) {
	s.mu.Lock()
	_, existed := s.peers[p.key()]
	s.peers[p.key()] = p
	s.mu.Unlock()

	if !existed {
		s.log.Info().Str("name", p.Name).Str("address", p.Address).Int("port", p.Port).Msg("peer discovered")
		if s.bus != nil {
			s.bus.Publish(events.NewPeerEvent(events.TypePeerAdded, p.Name, p.Address, p.Port))
		}
	}
}

// expireStale removes peers not re-confirmed within constants.PeerExpiry,
// which is how "peer left" is detected: mDNS has no leave notification, so
// absence is implemented as a timeout. A re-sighted peer whose fields
// changed is overwritten in place by upsert; no removed/added event pair is
// published for it.
func (s *Service) expireStale() {
	cutoff := time.Now().Add(-constants.PeerExpiry)
	var removed []Peer

	s.mu.Lock()
	for k, p := range s.peers {
		if p.LastSeen.Before(cutoff) {
			delete(s.peers, k)
			removed = append(removed, p)
		}
	}
	s.mu.Unlock()

	for _, p := range removed {
		s.log.Info().Str("name", p.Name).Str("address", p.Address).Msg("peer expired")
		if s.bus != nil {
			s.bus.Publish(events.NewPeerEvent(events.TypePeerRemoved, p.Name, p.Address, p.Port))
		}
	}
}

func entryToPeer(entry *mdns.ServiceEntry) (Peer, bool) {
	if entry == nil {
		return Peer{}, false
	}
	var host string
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.Host != "":
		host = strings.TrimSuffix(entry.Host, ".")
	default:
		return Peer{}, false
	}

	version := ""
	device := entry.Name
	for _, field := range entry.InfoFields {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch k {
		case "version":
			version = v
		case "device":
			device = v
		}
	}

	return Peer{
		Name:     device,
		Address:  host,
		Port:     entry.Port,
		Version:  version,
		LastSeen: time.Now(),
	}, true
}

func getLocalIPs() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() || ip.To4() == nil {
				continue
			}
			ips = append(ips, ip)
		}
	}
	return ips, nil
}
