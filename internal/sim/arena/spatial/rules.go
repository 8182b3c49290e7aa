package spatial

import (
	"fmt"
	"math"
	"strings"
)

type Metric string

const (
	Chebyshev Metric = "chebyshev"
	Manhattan Metric = "manhattan"
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", Chebyshev:
		return Chebyshev, nil
	case Manhattan:
		return Manhattan, nil
	default:
		return "", fmt.Errorf("unknown distance metric %q", s)
	}
}

// Default thresholds: twelve unit moves leave the zone, eleven do not.
const (
	DefaultSafeZoneRadius   int64 = 11
	DefaultInteractionRange int64 = 11
)

// Rules are the spatial thresholds. Both checks are inclusive.
type Rules struct {
	Metric           Metric
	SafeZoneRadius   int64
	InteractionRange int64
}

func DefaultRules() Rules {
	return Rules{
		Metric:           Chebyshev,
		SafeZoneRadius:   DefaultSafeZoneRadius,
		InteractionRange: DefaultInteractionRange,
	}
}

func (r Rules) Validate() error {
	if _, err := ParseMetric(string(r.Metric)); err != nil {
		return err
	}
	if r.SafeZoneRadius < 0 {
		return fmt.Errorf("safe zone radius must be >= 0, got %d", r.SafeZoneRadius)
	}
	if r.InteractionRange < 0 {
		return fmt.Errorf("interaction range must be >= 0, got %d", r.InteractionRange)
	}
	return nil
}

// Distance between a and b under the configured metric. Saturates at
// MaxUint64 instead of overflowing.
func (r Rules) Distance(a, b Position) uint64 {
	dx := absDiff(a.X, b.X)
	dy := absDiff(a.Y, b.Y)
	if r.Metric == Manhattan {
		if dx > math.MaxUint64-dy {
			return math.MaxUint64
		}
		return dx + dy
	}
	if dx > dy {
		return dx
	}
	return dy
}

func (r Rules) InSafeZone(p Position) bool {
	return r.Distance(p, Origin) <= uint64(r.SafeZoneRadius)
}

func (r Rules) WithinRange(a, b Position) bool {
	return r.Distance(a, b) <= uint64(r.InteractionRange)
}

func absDiff(a, b int64) uint64 {
	if a >= b {
		return uint64(a) - uint64(b)
	}
	return uint64(b) - uint64(a)
}
