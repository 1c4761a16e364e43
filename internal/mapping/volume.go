package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
)

// ErrVolumeUnavailable is returned when neither a measured nor a derived
// volume can be produced.
var ErrVolumeUnavailable = errors.New("volume not available")

// VolumeOptions control how a volume is obtained from tool output.
type VolumeOptions struct {
	// AssumedHeight converts an area into a volume when only the area is reported.
	AssumedHeight float64
	// Simulate enables a random volume in [SimulatedMin, SimulatedMax] when
	// the stats file is missing. Meant for demos without the tool installed.
	Simulate     bool
	SimulatedMin float64
	SimulatedMax float64
	// Rand overrides the random source, mostly for tests.
	Rand func() float64
}

// Volume is an extracted result.
type Volume struct {
	Value     float64
	Derived   bool // computed from area × assumed height
	Simulated bool
}

type stats struct {
	Volume *float64 `json:"volume"`
	Area   *float64 `json:"area"`
}

// ExtractVolume reads the tool's stats file.
func ExtractVolume(statsPath string, opts VolumeOptions) (Volume, error) {
	data, err := os.ReadFile(statsPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Volume{}, fmt.Errorf("read stats: %w", err)
		}
		if !opts.Simulate {
			return Volume{}, fmt.Errorf("%w: %s missing", ErrVolumeUnavailable, statsPath)
		}
		return Volume{Value: simulate(opts), Simulated: true}, nil
	}

	var s stats
	if err := json.Unmarshal(data, &s); err != nil {
		return Volume{}, fmt.Errorf("parse stats: %w", err)
	}

	switch {
	case s.Volume != nil:
		return Volume{Value: *s.Volume}, nil
	case s.Area != nil:
		return DeriveVolume(*s.Area, opts.AssumedHeight), nil
	default:
		return Volume{}, fmt.Errorf("%w: stats has neither volume nor area", ErrVolumeUnavailable)
	}
}

// DeriveVolume multiplies an area by the assumed stockpile height.
func DeriveVolume(area, height float64) Volume {
	return Volume{Value: Round2(area * height), Derived: true}
}

func simulate(opts VolumeOptions) float64 {
	r := opts.Rand
	if r == nil {
		r = rand.Float64
	}
	return Round2(opts.SimulatedMin + r()*(opts.SimulatedMax-opts.SimulatedMin))
}

// Round2 rounds to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
