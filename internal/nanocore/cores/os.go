package cores

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"
	"go.uber.org/zap"

	"github.com/Alfredo-rv/SAAI/internal/config"
	"github.com/Alfredo-rv/SAAI/internal/errors"
	"github.com/Alfredo-rv/SAAI/internal/fabric"
	"github.com/Alfredo-rv/SAAI/internal/model"
	"github.com/Alfredo-rv/SAAI/internal/nanocore"
)

// SystemInfo describes the host operating system
type SystemInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	Architecture    string `json:"architecture"`
	UptimeSeconds   uint64 `json:"uptime_seconds"`
	Processes       uint64 `json:"processes"`
}

// SystemResources is a point-in-time resource sample
type SystemResources struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryTotal   uint64    `json:"memory_total"`
	MemoryUsed    uint64    `json:"memory_used"`
	MemoryPercent float64   `json:"memory_percent"`
	Load1         float64   `json:"load1"`
	Load5         float64   `json:"load5"`
	Load15        float64   `json:"load15"`
	Timestamp     time.Time `json:"timestamp"`
}

// ProcessInfo is one entry of the process list
type ProcessInfo struct {
	PID           int32   `json:"pid"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float32 `json:"memory_percent"`
	Whitelisted   bool    `json:"whitelisted"`
}

// OSCore watches the host operating system and answers queries about it
type OSCore struct {
	*base
	cfg       config.OSCoreConfig
	whitelist map[string]bool
	last      SystemResources
}

// NewOSCore creates an OS domain replica
func NewOSCore(index int, cfg config.OSCoreConfig, bus nanocore.Bus, logger *zap.Logger) *OSCore {
	wl := make(map[string]bool, len(cfg.ProcessWhitelist))
	for _, name := range cfg.ProcessWhitelist {
		wl[name] = true
	}
	return &OSCore{
		base:      newBase(model.CoreTypeOS, index, bus, time.Duration(cfg.MonitorIntervalMs)*time.Millisecond, logger),
		cfg:       cfg,
		whitelist: wl,
	}
}

func (c *OSCore) Initialize(ctx context.Context) error {
	if _, err := c.systemInfo(ctx); err != nil {
		return fmt.Errorf("failed to read host info: %w", err)
	}
	if err := c.start(ctx); err != nil {
		return err
	}
	c.logger.Info("OS replica initialized")
	return nil
}

func (c *OSCore) Run(ctx context.Context) error {
	if !c.due() {
		return nil
	}
	res, err := c.systemResources(ctx)
	if err != nil {
		c.recordError("sample_resources", err)
		return err
	}
	c.last = res

	if err := c.publish(ctx, fabric.TopicSystemResources, res); err != nil {
		c.recordError("publish_resources", err)
	}
	if c.cfg.ResourceLimits.MaxCPUPercent > 0 && res.CPUPercent > c.cfg.ResourceLimits.MaxCPUPercent {
		c.logger.Warn("Host CPU above limit",
			zap.Float64("cpu_percent", res.CPUPercent),
			zap.Float64("limit", c.cfg.ResourceLimits.MaxCPUPercent))
	}
	return nil
}

func (c *OSCore) HealthCheck(ctx context.Context) (*model.CoreHealth, error) {
	state := c.currentState()
	if state == model.CoreStateRunning && c.errorCount.Load() > 10 {
		state = model.CoreStateDegraded
	}
	return c.health(ctx, state), nil
}

func (c *OSCore) ProcessCommand(ctx context.Context, name string, payload []byte) ([]byte, error) {
	switch name {
	case "get_system_info":
		info, err := c.systemInfo(ctx)
		if err != nil {
			return nil, errors.InternalError("failed to read host info", err)
		}
		return reply(info)

	case "get_system_resources":
		res, err := c.systemResources(ctx)
		if err != nil {
			return nil, errors.InternalError("failed to sample resources", err)
		}
		return reply(res)

	case "get_process_list":
		procs, err := c.processList(ctx)
		if err != nil {
			return nil, errors.InternalError("failed to list processes", err)
		}
		return reply(procs)

	case "get_env":
		var req struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(payload, &req); err != nil || req.Name == "" {
			return nil, errors.InvalidArgument("get_env needs a JSON body with a name", err)
		}
		value, ok := os.LookupEnv(req.Name)
		return reply(map[string]any{"name": req.Name, "value": value, "set": ok})
	}
	return nil, errors.UnsupportedCommand(string(c.coreType), name)
}

func (c *OSCore) systemInfo(ctx context.Context) (SystemInfo, error) {
	h, err := host.InfoWithContext(ctx)
	if err != nil {
		return SystemInfo{}, err
	}
	return SystemInfo{
		Hostname:        h.Hostname,
		OS:              h.OS,
		Platform:        h.Platform,
		PlatformVersion: h.PlatformVersion,
		KernelVersion:   h.KernelVersion,
		Architecture:    runtime.GOARCH,
		UptimeSeconds:   h.Uptime,
		Processes:       h.Procs,
	}, nil
}

func (c *OSCore) systemResources(ctx context.Context) (SystemResources, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return SystemResources{}, err
	}
	res := SystemResources{
		MemoryTotal:   vm.Total,
		MemoryUsed:    vm.Used,
		MemoryPercent: vm.UsedPercent,
		Timestamp:     time.Now().UTC(),
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		res.CPUPercent = pct[0]
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		res.Load1, res.Load5, res.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	return res, nil
}

func (c *OSCore) processList(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		info := ProcessInfo{PID: p.Pid, Name: name, Whitelisted: c.whitelist[name]}
		if v, err := p.CPUPercentWithContext(ctx); err == nil {
			info.CPUPercent = v
		}
		if v, err := p.MemoryPercentWithContext(ctx); err == nil {
			info.MemoryPercent = v
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}
