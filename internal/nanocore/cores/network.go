package cores

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/net"
	"go.uber.org/zap"

	"github.com/Alfredo-rv/SAAI/internal/config"
	"github.com/Alfredo-rv/SAAI/internal/errors"
	"github.com/Alfredo-rv/SAAI/internal/fabric"
	"github.com/Alfredo-rv/SAAI/internal/model"
	"github.com/Alfredo-rv/SAAI/internal/nanocore"
)

// InterfaceInfo describes one network interface
type InterfaceInfo struct {
	Name      string   `json:"name"`
	Up        bool     `json:"up"`
	Loopback  bool     `json:"loopback"`
	MTU       int      `json:"mtu"`
	Addresses []string `json:"addresses"`
}

// InterfaceStats holds cumulative counters and the derived error rate
type InterfaceStats struct {
	Name        string  `json:"name"`
	BytesSent   uint64  `json:"bytes_sent"`
	BytesRecv   uint64  `json:"bytes_recv"`
	PacketsSent uint64  `json:"packets_sent"`
	PacketsRecv uint64  `json:"packets_recv"`
	Errors      uint64  `json:"errors"`
	Drops       uint64  `json:"drops"`
	ErrorRate   float64 `json:"error_rate"`
}

// Connectivity summarizes what the network replica last observed
type Connectivity struct {
	InterfacesUp    int              `json:"interfaces_up"`
	InterfacesTotal int              `json:"interfaces_total"`
	Stats           []InterfaceStats `json:"stats"`
	Timestamp       time.Time        `json:"timestamp"`
}

// NetworkAlert reports an interface problem
type NetworkAlert struct {
	Interface string  `json:"interface"`
	Kind      string  `json:"kind"`
	Value     float64 `json:"value,omitempty"`
}

// NetworkCore watches interfaces and traffic counters
type NetworkCore struct {
	*base
	cfg      config.NetworkCoreConfig
	upCount  int
	observed bool
}

// NewNetworkCore creates a network domain replica
func NewNetworkCore(index int, cfg config.NetworkCoreConfig, publishEvery time.Duration, bus nanocore.Bus, logger *zap.Logger) *NetworkCore {
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = 5
	}
	return &NetworkCore{
		base: newBase(model.CoreTypeNetwork, index, bus, publishEvery, logger),
		cfg:  cfg,
	}
}

func (c *NetworkCore) Initialize(ctx context.Context) error {
	if _, err := net.InterfacesWithContext(ctx); err != nil {
		return fmt.Errorf("failed to list interfaces: %w", err)
	}
	if err := c.start(ctx); err != nil {
		return err
	}
	c.logger.Info("Network replica initialized")
	return nil
}

func (c *NetworkCore) Run(ctx context.Context) error {
	if !c.due() {
		return nil
	}
	ifaces, err := c.interfaces(ctx)
	if err != nil {
		c.recordError("list_interfaces", err)
		return err
	}
	conn, err := c.connectivity(ctx, ifaces)
	if err != nil {
		c.recordError("io_counters", err)
		return err
	}
	c.upCount = conn.InterfacesUp
	c.observed = true

	if err := c.publish(ctx, fabric.TopicNetworkMetrics, conn); err != nil {
		c.recordError("publish_metrics", err)
	}
	for _, a := range NetworkAlerts(ifaces, conn.Stats, c.cfg.ErrorRateThreshold) {
		if err := c.publish(ctx, fabric.TopicNetworkAlerts, a); err != nil {
			c.recordError("publish_alert", err)
		}
	}
	return nil
}

func (c *NetworkCore) HealthCheck(ctx context.Context) (*model.CoreHealth, error) {
	state := c.currentState()
	if state == model.CoreStateRunning && (c.errorCount.Load() > 10 || (c.observed && c.upCount == 0)) {
		state = model.CoreStateFailed
	}
	return c.health(ctx, state), nil
}

func (c *NetworkCore) ProcessCommand(ctx context.Context, name string, _ []byte) ([]byte, error) {
	switch name {
	case "get_interfaces":
		ifaces, err := c.interfaces(ctx)
		if err != nil {
			return nil, errors.InternalError("failed to list interfaces", err)
		}
		return reply(ifaces)

	case "get_connectivity":
		ifaces, err := c.interfaces(ctx)
		if err != nil {
			return nil, errors.InternalError("failed to list interfaces", err)
		}
		conn, err := c.connectivity(ctx, ifaces)
		if err != nil {
			return nil, errors.InternalError("failed to read counters", err)
		}
		return reply(conn)
	}
	return nil, errors.UnsupportedCommand(string(c.coreType), name)
}

func (c *NetworkCore) interfaces(ctx context.Context) ([]InterfaceInfo, error) {
	stats, err := net.InterfacesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]InterfaceInfo, 0, len(stats))
	for _, s := range stats {
		info := InterfaceInfo{Name: s.Name, MTU: s.MTU}
		for _, f := range s.Flags {
			switch f {
			case "up":
				info.Up = true
			case "loopback":
				info.Loopback = true
			}
		}
		for _, a := range s.Addrs {
			info.Addresses = append(info.Addresses, a.Addr)
		}
		out = append(out, info)
	}
	return out, nil
}

func (c *NetworkCore) connectivity(ctx context.Context, ifaces []InterfaceInfo) (Connectivity, error) {
	counters, err := net.IOCountersWithContext(ctx, true)
	if err != nil {
		return Connectivity{}, err
	}
	conn := Connectivity{InterfacesTotal: len(ifaces), Timestamp: time.Now().UTC()}
	for _, i := range ifaces {
		if i.Up {
			conn.InterfacesUp++
		}
	}
	for _, ct := range counters {
		conn.Stats = append(conn.Stats, statsFromCounters(ct))
	}
	return conn, nil
}

func statsFromCounters(ct net.IOCountersStat) InterfaceStats {
	s := InterfaceStats{
		Name:        ct.Name,
		BytesSent:   ct.BytesSent,
		BytesRecv:   ct.BytesRecv,
		PacketsSent: ct.PacketsSent,
		PacketsRecv: ct.PacketsRecv,
		Errors:      ct.Errin + ct.Errout,
		Drops:       ct.Dropin + ct.Dropout,
	}
	if packets := ct.PacketsSent + ct.PacketsRecv; packets > 0 {
		s.ErrorRate = float64(s.Errors) / float64(packets) * 100
	}
	return s
}

// NetworkAlerts reports non-loopback interfaces that are down and
// interfaces whose error rate exceeds threshold percent.
func NetworkAlerts(ifaces []InterfaceInfo, stats []InterfaceStats, threshold float64) []NetworkAlert {
	var alerts []NetworkAlert
	for _, i := range ifaces {
		if !i.Up && !i.Loopback {
			alerts = append(alerts, NetworkAlert{Interface: i.Name, Kind: "interface_down"})
		}
	}
	for _, s := range stats {
		if s.ErrorRate > threshold {
			alerts = append(alerts, NetworkAlert{Interface: s.Name, Kind: "high_error_rate", Value: s.ErrorRate})
		}
	}
	return alerts
}
