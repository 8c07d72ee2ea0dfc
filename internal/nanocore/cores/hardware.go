package cores

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"
	"go.uber.org/zap"

	"github.com/Alfredo-rv/SAAI/internal/config"
	"github.com/Alfredo-rv/SAAI/internal/errors"
	"github.com/Alfredo-rv/SAAI/internal/fabric"
	"github.com/Alfredo-rv/SAAI/internal/model"
	"github.com/Alfredo-rv/SAAI/internal/nanocore"
)

// HardwareInfo describes the machine
type HardwareInfo struct {
	CPUModel      string  `json:"cpu_model"`
	PhysicalCores int     `json:"physical_cores"`
	LogicalCores  int     `json:"logical_cores"`
	CPUMhz        float64 `json:"cpu_mhz"`
	MemoryTotal   uint64  `json:"memory_total"`
	DiskTotal     uint64  `json:"disk_total"`
}

// HardwareSample is one reading of the monitored hardware metrics
type HardwareSample struct {
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryPercent  float64   `json:"memory_percent"`
	DiskPercent    float64   `json:"disk_percent"`
	MaxTemperature float64   `json:"max_temperature"`
	Timestamp      time.Time `json:"timestamp"`
}

// HardwareAlert reports a metric over its configured threshold
type HardwareAlert struct {
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Severity  string  `json:"severity"`
}

// FailurePrediction estimates how likely a component is to fail soon
type FailurePrediction struct {
	Component   string  `json:"component"`
	Probability float64 `json:"probability"`
	Reason      string  `json:"reason"`
}

// HardwareCore samples CPU, memory, disk and temperature sensors
type HardwareCore struct {
	*base
	cfg  config.HardwareCoreConfig
	last HardwareSample
}

// NewHardwareCore creates a hardware domain replica
func NewHardwareCore(index int, cfg config.HardwareCoreConfig, publishEvery time.Duration, bus nanocore.Bus, logger *zap.Logger) *HardwareCore {
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	return &HardwareCore{
		base: newBase(model.CoreTypeHardware, index, bus, publishEvery, logger),
		cfg:  cfg,
	}
}

func (c *HardwareCore) Initialize(ctx context.Context) error {
	if _, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		return fmt.Errorf("failed to read memory: %w", err)
	}
	if err := c.start(ctx); err != nil {
		return err
	}
	c.logger.Info("Hardware replica initialized")
	return nil
}

func (c *HardwareCore) Run(ctx context.Context) error {
	if !c.due() {
		return nil
	}
	sample, err := c.sample(ctx)
	if err != nil {
		c.recordError("sample_hardware", err)
		return err
	}
	c.last = sample

	if err := c.publish(ctx, fabric.TopicHardwareMetrics, sample); err != nil {
		c.recordError("publish_metrics", err)
	}
	for _, a := range CheckHardwareThresholds(sample, c.cfg) {
		if err := c.publish(ctx, fabric.TopicHardwareAlerts, a); err != nil {
			c.recordError("publish_alert", err)
		}
	}
	return nil
}

func (c *HardwareCore) HealthCheck(ctx context.Context) (*model.CoreHealth, error) {
	state := c.currentState()
	if state == model.CoreStateRunning {
		if c.errorCount.Load() > 10 || len(CheckHardwareThresholds(c.last, c.cfg)) > 0 {
			state = model.CoreStateDegraded
		}
	}
	return c.health(ctx, state), nil
}

func (c *HardwareCore) ProcessCommand(ctx context.Context, name string, _ []byte) ([]byte, error) {
	switch name {
	case "get_hardware_info":
		info, err := c.info(ctx)
		if err != nil {
			return nil, errors.InternalError("failed to read hardware info", err)
		}
		return reply(info)

	case "get_hardware_metrics":
		sample, err := c.sample(ctx)
		if err != nil {
			return nil, errors.InternalError("failed to sample hardware", err)
		}
		return reply(sample)

	case "predict_failures":
		sample, err := c.sample(ctx)
		if err != nil {
			return nil, errors.InternalError("failed to sample hardware", err)
		}
		return reply(PredictFailures(sample, c.cfg))
	}
	return nil, errors.UnsupportedCommand(string(c.coreType), name)
}

func (c *HardwareCore) info(ctx context.Context) (HardwareInfo, error) {
	var info HardwareInfo
	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
		info.CPUMhz = cpus[0].Mhz
	}
	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		info.PhysicalCores = n
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.LogicalCores = n
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return info, err
	}
	info.MemoryTotal = vm.Total
	if du, err := disk.UsageWithContext(ctx, c.cfg.DiskPath); err == nil {
		info.DiskTotal = du.Total
	}
	return info, nil
}

func (c *HardwareCore) sample(ctx context.Context) (HardwareSample, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HardwareSample{}, err
	}
	s := HardwareSample{
		MemoryPercent: vm.UsedPercent,
		Timestamp:     time.Now().UTC(),
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if du, err := disk.UsageWithContext(ctx, c.cfg.DiskPath); err == nil {
		s.DiskPercent = du.UsedPercent
	}
	// Sensors are often missing in containers and VMs; partial reads still count
	temps, _ := host.SensorsTemperaturesWithContext(ctx)
	for _, t := range temps {
		if t.Temperature > s.MaxTemperature {
			s.MaxTemperature = t.Temperature
		}
	}
	return s, nil
}

// CheckHardwareThresholds returns an alert for every metric over its threshold
func CheckHardwareThresholds(s HardwareSample, cfg config.HardwareCoreConfig) []HardwareAlert {
	var alerts []HardwareAlert
	check := func(metric string, value, threshold float64) {
		if threshold <= 0 || value <= threshold {
			return
		}
		severity := "warning"
		if value >= threshold*1.1 || value >= 100 {
			severity = "critical"
		}
		alerts = append(alerts, HardwareAlert{Metric: metric, Value: value, Threshold: threshold, Severity: severity})
	}
	check("cpu_usage", s.CPUPercent, cfg.CPUUsageThreshold)
	check("memory_usage", s.MemoryPercent, cfg.MemoryUsageThreshold)
	check("disk_usage", s.DiskPercent, cfg.DiskUsageThreshold)
	check("temperature", s.MaxTemperature, cfg.TemperatureThreshold)
	return alerts
}

// PredictFailures scores components from how close they run to their
// thresholds. Components below 80% of their threshold are not reported.
func PredictFailures(s HardwareSample, cfg config.HardwareCoreConfig) []FailurePrediction {
	if !cfg.EnablePredictiveMonitoring {
		return nil
	}
	var out []FailurePrediction
	predict := func(component string, value, threshold float64, reason string) {
		if threshold <= 0 {
			return
		}
		ratio := value / threshold
		if ratio < 0.8 {
			return
		}
		p := (ratio - 0.8) / 0.4
		if p > 1 {
			p = 1
		}
		out = append(out, FailurePrediction{Component: component, Probability: p, Reason: reason})
	}
	predict("cpu", s.MaxTemperature, cfg.TemperatureThreshold, "sustained high temperature")
	predict("memory", s.MemoryPercent, cfg.MemoryUsageThreshold, "memory pressure")
	predict("disk", s.DiskPercent, cfg.DiskUsageThreshold, "disk nearly full")
	return out
}
