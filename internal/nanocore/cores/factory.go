package cores

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Alfredo-rv/SAAI/internal/config"
	"github.com/Alfredo-rv/SAAI/internal/model"
	"github.com/Alfredo-rv/SAAI/internal/nanocore"
)

// Factory builds host-backed replicas for the four built-in domains
type Factory struct {
	cfg    config.NanoCoresConfig
	bus    nanocore.Bus
	logger *zap.Logger
}

// NewFactory creates a domain factory
func NewFactory(cfg config.NanoCoresConfig, bus nanocore.Bus, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{cfg: cfg, bus: bus, logger: logger.Named("cores")}
}

// Create builds replica index of coreType
func (f *Factory) Create(coreType model.CoreType, index int) (nanocore.NanoCore, error) {
	every := time.Duration(f.cfg.MonitorIntervalMs) * time.Millisecond

	switch coreType {
	case model.CoreTypeOS:
		return NewOSCore(index, f.cfg.OSCore, f.bus, f.logger), nil
	case model.CoreTypeHardware:
		return NewHardwareCore(index, f.cfg.HardwareCore, every, f.bus, f.logger), nil
	case model.CoreTypeNetwork:
		return NewNetworkCore(index, f.cfg.NetworkCore, every, f.bus, f.logger), nil
	case model.CoreTypeSecurity:
		return NewSecurityCore(index, f.cfg.SecurityCore, every, f.bus, f.logger), nil
	}
	return nil, fmt.Errorf("unknown core type %q", coreType)
}
