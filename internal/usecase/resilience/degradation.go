package resilience

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Degradation levels.
const (
	LevelFull      = 0
	LevelReduced   = 1
	LevelMinimal   = 2
	LevelEmergency = 3
)

// DefaultMaxDegradation is the highest level reached by Degrade.
const DefaultMaxDegradation = LevelEmergency

// Degradation tracks the service-wide degradation level. Safe for concurrent use.
type Degradation struct {
	level  atomic.Int32
	max    int32
	logger *zap.Logger
}

// NewDegradation creates a tracker at full service.
func NewDegradation(maxLevel int, logger *zap.Logger) *Degradation {
	if maxLevel <= 0 {
		maxLevel = DefaultMaxDegradation
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Degradation{max: int32(maxLevel), logger: logger}
}

// Level returns the current level.
func (d *Degradation) Level() int { return int(d.level.Load()) }

// Degrade raises the level by one, saturating at the maximum. Returns the new level.
func (d *Degradation) Degrade(reason string) int {
	for {
		cur := d.level.Load()
		if cur >= d.max {
			return int(cur)
		}
		if d.level.CompareAndSwap(cur, cur+1) {
			d.logger.Warn("Service degraded",
				zap.Int("level", int(cur+1)),
				zap.String("reason", reason),
			)
			return int(cur + 1)
		}
	}
}

// Recover lowers the level by one, saturating at zero. Returns the new level.
func (d *Degradation) Recover() int {
	for {
		cur := d.level.Load()
		if cur <= 0 {
			return 0
		}
		if d.level.CompareAndSwap(cur, cur-1) {
			d.logger.Info("Service recovering", zap.Int("level", int(cur-1)))
			return int(cur - 1)
		}
	}
}

// CanPerform reports whether an operation tolerating maxTolerated may run now.
func (d *Degradation) CanPerform(maxTolerated int) bool {
	return d.Level() <= maxTolerated
}
