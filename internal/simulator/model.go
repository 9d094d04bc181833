package simulator

import (
	"sync"

	"github.com/mastercactapus/buildctl/internal/driverapi"
)

// machineModel tracks per-tool and platform target/current temperatures so
// ReadTemperature and the Stop dispatch rule (target temperature -> 0) have
// somewhere real to land.
type machineModel struct {
	mu             sync.Mutex
	toolCount      int
	toolTarget     map[int]float64
	toolCurrent    map[int]float64
	platformTarget float64
	platformCurrent float64
}

func newMachineModel(toolCount int) *machineModel {
	return &machineModel{
		toolCount:   toolCount,
		toolTarget:  make(map[int]float64),
		toolCurrent: make(map[int]float64),
	}
}

func (m *machineModel) ToolCount() int { return m.toolCount }

func (m *machineModel) SetTargetTemperature(tool int, celsius float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolTarget[tool] = celsius
}

func (m *machineModel) SetPlatformTargetTemperature(tool int, celsius float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.platformTarget = celsius
}

// readTemperature reports tool 0's state and nudges tool 0's and the
// platform's temperature a step closer to their targets, so repeated polling shows a
// plausible approach curve instead of an instant jump.
func (m *machineModel) readTemperature() driverapi.ToolTemperature {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.platformCurrent = step(m.platformCurrent, m.platformTarget)
	cur := m.toolCurrent[0]
	cur = step(cur, m.toolTarget[0])
	m.toolCurrent[0] = cur

	return driverapi.ToolTemperature{
		Tool:           0,
		Current:        cur,
		Target:         m.toolTarget[0],
		PlatformTemp:   m.platformCurrent,
		PlatformTarget: m.platformTarget,
	}
}

func step(current, target float64) float64 {
	const rate = 5.0
	if current < target {
		current += rate
		if current > target {
			current = target
		}
	} else if current > target {
		current -= rate
		if current < target {
			current = target
		}
	}
	return current
}
