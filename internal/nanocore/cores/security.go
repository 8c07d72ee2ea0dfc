package cores

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/process"
	"go.uber.org/zap"

	"github.com/Alfredo-rv/SAAI/internal/config"
	"github.com/Alfredo-rv/SAAI/internal/errors"
	"github.com/Alfredo-rv/SAAI/internal/fabric"
	"github.com/Alfredo-rv/SAAI/internal/model"
	"github.com/Alfredo-rv/SAAI/internal/nanocore"
)

// SecurityLevel grades the node's security posture
type SecurityLevel string

const (
	SecurityLevelHigh     SecurityLevel = "high"
	SecurityLevelMedium   SecurityLevel = "medium"
	SecurityLevelLow      SecurityLevel = "low"
	SecurityLevelMinimal  SecurityLevel = "minimal"
	SecurityLevelCritical SecurityLevel = "critical"
)

// Threat is a finding from a process scan
type Threat struct {
	PID      int32     `json:"pid"`
	Process  string    `json:"process"`
	Severity string    `json:"severity"`
	Detected time.Time `json:"detected"`
}

// SecurityStatus is the security replica's report
type SecurityStatus struct {
	Level                  SecurityLevel `json:"level"`
	Score                  float64       `json:"score"`
	SandboxEnabled         bool          `json:"sandbox_enabled"`
	EncryptionAlgorithm    string        `json:"encryption_algorithm"`
	ThreatDetectionEnabled bool          `json:"threat_detection_enabled"`
	ActiveThreats          []Threat      `json:"active_threats"`
	Quarantined            []int32       `json:"quarantined"`
	LastKeyRotation        time.Time     `json:"last_key_rotation"`
	Timestamp              time.Time     `json:"timestamp"`
}

var severityPenalty = map[string]float64{
	"critical": 30,
	"high":     20,
	"medium":   10,
	"low":      5,
}

// severities the scanner does not recognise are scored as medium
const defaultSeverityPenalty = 10

func penaltyFor(severity string) float64 {
	if p, ok := severityPenalty[severity]; ok {
		return p
	}
	return defaultSeverityPenalty
}

// SecurityScore starts at 100 and deducts per threat and per disabled protection
func SecurityScore(threats []Threat, sandbox, detection bool) float64 {
	score := 100.0
	for _, t := range threats {
		score -= penaltyFor(t.Severity)
	}
	if !sandbox {
		score -= 15
	}
	if !detection {
		score -= 15
	}
	if score < 0 {
		return 0
	}
	return score
}

// LevelForScore maps a security score to a level
func LevelForScore(score float64) SecurityLevel {
	switch {
	case score >= 90:
		return SecurityLevelHigh
	case score >= 70:
		return SecurityLevelMedium
	case score >= 50:
		return SecurityLevelLow
	case score >= 30:
		return SecurityLevelMinimal
	default:
		return SecurityLevelCritical
	}
}

// processLister is swapped in tests
type processLister func(ctx context.Context) (map[int32]string, error)

func hostProcesses(ctx context.Context) (map[int32]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int32]string, len(procs))
	for _, p := range procs {
		if name, err := p.NameWithContext(ctx); err == nil {
			out[p.Pid] = name
		}
	}
	return out, nil
}

// SecurityCore scans processes against a blocklist and tracks quarantine
type SecurityCore struct {
	*base
	cfg       config.SecurityCoreConfig
	blocklist []string
	list      processLister

	mu          sync.Mutex
	threats     []Threat
	quarantined map[int32]bool
	lastRotate  time.Time
}

// NewSecurityCore creates a security domain replica
func NewSecurityCore(index int, cfg config.SecurityCoreConfig, publishEvery time.Duration, bus nanocore.Bus, logger *zap.Logger) *SecurityCore {
	blocklist := make([]string, 0, len(cfg.ProcessBlocklist))
	for _, name := range cfg.ProcessBlocklist {
		blocklist = append(blocklist, strings.ToLower(name))
	}
	return &SecurityCore{
		base:        newBase(model.CoreTypeSecurity, index, bus, publishEvery, logger),
		cfg:         cfg,
		blocklist:   blocklist,
		list:        hostProcesses,
		quarantined: make(map[int32]bool),
	}
}

func (c *SecurityCore) Initialize(ctx context.Context) error {
	if err := c.start(ctx); err != nil {
		return err
	}
	c.lastRotate = time.Now().UTC()
	c.logger.Info("Security replica initialized",
		zap.Bool("sandbox_enabled", c.cfg.SandboxEnabled),
		zap.String("encryption_algorithm", c.cfg.EncryptionAlgorithm))
	return nil
}

func (c *SecurityCore) Run(ctx context.Context) error {
	if !c.due() {
		return nil
	}
	if c.cfg.KeyRotationIntervalHours > 0 &&
		time.Since(c.lastRotate) >= time.Duration(c.cfg.KeyRotationIntervalHours)*time.Hour {
		c.rotateKeys()
	}

	if c.cfg.ThreatDetectionEnabled {
		threats, err := c.scan(ctx)
		if err != nil {
			c.recordError("scan", err)
			return err
		}
		for _, t := range threats {
			if err := c.alert(ctx, model.EventTypeSecurityAlert, model.PriorityCritical, t); err != nil {
				c.recordError("publish_alert", err)
			}
		}
	}

	if err := c.publish(ctx, fabric.TopicSecurityMetrics, c.status()); err != nil {
		c.recordError("publish_metrics", err)
	}
	return nil
}

func (c *SecurityCore) HealthCheck(ctx context.Context) (*model.CoreHealth, error) {
	state := c.currentState()
	if state == model.CoreStateRunning {
		switch c.status().Level {
		case SecurityLevelCritical:
			state = model.CoreStateFailed
		case SecurityLevelMinimal, SecurityLevelLow:
			state = model.CoreStateDegraded
		default:
			if c.errorCount.Load() > 10 {
				state = model.CoreStateDegraded
			}
		}
	}
	return c.health(ctx, state), nil
}

func (c *SecurityCore) ProcessCommand(ctx context.Context, name string, payload []byte) ([]byte, error) {
	switch name {
	case "get_security_status":
		return reply(c.status())

	case "scan":
		threats, err := c.scan(ctx)
		if err != nil {
			return nil, errors.InternalError("process scan failed", err)
		}
		return reply(threats)

	case "quarantine_process":
		var req struct {
			PID int32 `json:"pid"`
		}
		if err := json.Unmarshal(payload, &req); err != nil || req.PID <= 0 {
			return nil, errors.InvalidArgument("quarantine_process needs a JSON body with a positive pid", err)
		}
		c.mu.Lock()
		c.quarantined[req.PID] = true
		c.mu.Unlock()
		c.logger.Warn("Process quarantined", zap.Int32("pid", req.PID))
		return reply(map[string]any{"pid": req.PID, "quarantined": true})

	case "rotate_keys":
		return reply(map[string]any{"rotated_at": c.rotateKeys()})
	}
	return nil, errors.UnsupportedCommand(string(c.coreType), name)
}

// scan lists host processes and records every blocklisted one as a threat
func (c *SecurityCore) scan(ctx context.Context) ([]Threat, error) {
	procs, err := c.list(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	var threats []Threat
	for pid, name := range procs {
		lower := strings.ToLower(name)
		for _, blocked := range c.blocklist {
			if lower == blocked || strings.HasPrefix(lower, blocked) {
				threats = append(threats, Threat{PID: pid, Process: name, Severity: "high", Detected: now})
				break
			}
		}
	}
	sort.Slice(threats, func(i, j int) bool { return threats[i].PID < threats[j].PID })

	c.mu.Lock()
	c.threats = threats
	c.mu.Unlock()
	return threats, nil
}

func (c *SecurityCore) rotateKeys() time.Time {
	now := time.Now().UTC()
	c.mu.Lock()
	c.lastRotate = now
	c.mu.Unlock()
	c.logger.Info("Encryption keys rotated", zap.String("algorithm", c.cfg.EncryptionAlgorithm))
	return now
}

func (c *SecurityCore) status() SecurityStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	var active []Threat
	for _, t := range c.threats {
		if !c.quarantined[t.PID] {
			active = append(active, t)
		}
	}
	quarantined := make([]int32, 0, len(c.quarantined))
	for pid := range c.quarantined {
		quarantined = append(quarantined, pid)
	}
	sort.Slice(quarantined, func(i, j int) bool { return quarantined[i] < quarantined[j] })

	score := SecurityScore(active, c.cfg.SandboxEnabled, c.cfg.ThreatDetectionEnabled)
	return SecurityStatus{
		Level:                  LevelForScore(score),
		Score:                  score,
		SandboxEnabled:         c.cfg.SandboxEnabled,
		EncryptionAlgorithm:    c.cfg.EncryptionAlgorithm,
		ThreatDetectionEnabled: c.cfg.ThreatDetectionEnabled,
		ActiveThreats:          active,
		Quarantined:            quarantined,
		LastKeyRotation:        c.lastRotate,
		Timestamp:              time.Now().UTC(),
	}
}
