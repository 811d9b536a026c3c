package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"

	"tarun-kavipurapu/p2p-swarm/pkg/logger"
)

const (
	// ServiceType is the mDNS service type a tracker announces
	ServiceType = "_swarm-tracker._tcp"
	// Domain is the local domain for mDNS
	Domain = "local."
)

var ErrNotFound = errors.New("no tracker found")

// ServiceInfo contains information about a discovered tracker
type ServiceInfo struct {
	InstanceName string
	HostName     string
	Port         int
	IPs          []string
	Meta         map[string]string
}

// Addr returns host:port for the first IPv4 address of the service.
func (s *ServiceInfo) Addr() string {
	if len(s.IPs) == 0 {
		return ""
	}
	return net.JoinHostPort(s.IPs[0], strconv.Itoa(s.Port))
}

// Advertiser announces a tracker on the local network
type Advertiser struct {
	server *zeroconf.Server
}

// Resolver finds trackers on the local network
type Resolver struct {
	resolver *zeroconf.Resolver
}

func NewAdvertiser() *Advertiser {
	return &Advertiser{}
}

// Start begins broadcasting the service
func (a *Advertiser) Start(instanceName string, port int, meta map[string]string) error {
	if instanceName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			instanceName = "swarm-tracker"
		} else {
			instanceName = fmt.Sprintf("swarm-tracker-%s", hostname)
		}
	}

	server, err := zeroconf.Register(instanceName, ServiceType, Domain, port, encodeTXT(meta), nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	a.server = server
	logger.Sugar.Infof("[Discovery] advertising tracker: instance=%s port=%d", instanceName, port)
	return nil
}

// Stop stops broadcasting the service
func (a *Advertiser) Stop() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

func NewResolver() (*Resolver, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}
	return &Resolver{resolver: resolver}, nil
}

// Browse scans for trackers until the context is canceled
func (r *Resolver) Browse(ctx context.Context) (<-chan *ServiceInfo, error) {
	entries := make(chan *zeroconf.ServiceEntry)
	results := make(chan *ServiceInfo, 10)

	if err := r.resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse services: %w", err)
	}

	go func() {
		defer close(results)

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				info := fromEntry(entry)
				if len(info.IPs) == 0 {
					continue
				}
				logger.Sugar.Infof("[Discovery] discovered tracker: instance=%s ips=%v port=%d", info.InstanceName, info.IPs, info.Port)
				select {
				case results <- info:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return results, nil
}

// LookupTracker returns the address of the first tracker found before ctx
// is done.
func (r *Resolver) LookupTracker(ctx context.Context) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := r.Browse(ctx)
	if err != nil {
		return "", err
	}
	for info := range ch {
		if addr := info.Addr(); addr != "" {
			return addr, nil
		}
	}
	return "", ErrNotFound
}

func fromEntry(entry *zeroconf.ServiceEntry) *ServiceInfo {
	info := &ServiceInfo{
		InstanceName: entry.Instance,
		HostName:     entry.HostName,
		Port:         entry.Port,
		IPs:          make([]string, 0, len(entry.AddrIPv4)),
		Meta:         decodeTXT(entry.Text),
	}
	for _, ip := range entry.AddrIPv4 {
		info.IPs = append(info.IPs, ip.String())
	}
	return info
}

func encodeTXT(meta map[string]string) []string {
	var txt []string
	for k, v := range meta {
		txt = append(txt, fmt.Sprintf("%s=%s", k, v))
	}
	return txt
}

func decodeTXT(records []string) map[string]string {
	meta := make(map[string]string, len(records))
	for _, record := range records {
		k, v, ok := strings.Cut(record, "=")
		if ok {
			meta[k] = v
		}
	}
	return meta
}
