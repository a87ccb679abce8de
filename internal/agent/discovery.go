package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/intercept"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/kfd"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/registry"
	"github.com/ALEYI17/InfraSight_gpudebug/pkg/types"
	"go.uber.org/zap"
)

var ErrNoAgentIterator = errors.New("runtime table cannot iterate agents")

// discoverAgents adds every GPU agent the runtime knows to reg. topo may be
// nil, in which case gpu ids stay zero.
func discoverAgents(table *intercept.CoreTable, reg *registry.Registry, topo *kfd.Topology, logger *zap.Logger) error {
	if table.IterateAgents == nil || table.AgentInfo == nil {
		return ErrNoAgentIterator
	}

	var addErr error
	st := table.IterateAgents(func(handle uint64) types.HsaStatus {
		info, st := table.AgentInfo(handle)
		if !st.Ok() {
			logger.Warn("agent info query failed, some fields are left zero",
				zap.Uint64("agent", handle), zap.Stringer("status", st))
		}
		if info.Device != types.DeviceGPU {
			return types.StatusSuccess
		}

		name := strings.TrimSpace(info.Vendor + " " + info.Product)
		a := registry.NewAgent(handle, info.NodeID, name, info.ISA)
		a.ChipID = info.ChipID
		a.ComputeUnits = info.ComputeUnits
		a.ShaderEngines = info.ShaderEngines
		a.SIMDsPerCU = info.SIMDsPerCU
		a.WavesPerCU = info.WavesPerCU
		a.MaxEngineFreqMHz = info.MaxEngineFreqMHz
		a.MaxMemoryFreqMHz = info.MaxMemoryFreqMHz

		if topo != nil {
			gpuID, err := topo.GpuIDByLocation(info.LocationID)
			if err != nil {
				logger.Warn("no gpu id for agent", zap.String("agent", name), zap.Error(err))
			}
			a.GpuID = gpuID
		}

		reg.Lock()
		err := reg.AddAgent(a)
		reg.Unlock()
		if err != nil {
			addErr = err
			return types.StatusError
		}

		logger.Info("GPU agent",
			zap.String("name", a.Name),
			zap.String("isa", a.ISA),
			zap.Uint32("node", a.NodeID),
			zap.Uint32("gpu_id", a.GpuID),
			zap.Uint32("compute_units", a.ComputeUnits),
			zap.Uint32("waves_per_cu", a.WavesPerCU),
			zap.Stringer("status", a.Status))
		if !a.Active() {
			logger.Warn("unsupported GPU agent, waves will not be printed", zap.String("isa", a.ISA))
		}
		return types.StatusSuccess
	})
	if addErr != nil {
		return fmt.Errorf("adding agent: %w", addErr)
	}
	if !st.Ok() {
		return fmt.Errorf("iterating agents: %s", st)
	}
	return nil
}
