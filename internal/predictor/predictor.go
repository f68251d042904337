// Package predictor implements the per-field exponential-smoothing
// compressor: it decides, for every incoming sample, which optional
// fields the codec must carry and which can be omitted because the
// mirrored server-side predictor can reconstruct them within
// tolerance.
package predictor

import (
	"sync"
	"time"

	"github.com/langchou/tesgazer-edge/internal/ingest"
)

// Alpha is the fixed exponential-smoothing factor.
const Alpha = 0.3

// ResyncInterval is the maximum time between forced full
// transmissions.
const ResyncInterval = 30 * time.Second

// Tolerances, one per compressible field. A field is transmitted once
// its actual value diverges from the smoothed prediction by more than
// its tolerance.
const (
	SpeedTolerance   = 2.0
	PowerTolerance   = 5.0
	BatteryTolerance = 0.5
	HeadingTolerance = 5.0
)

// Decisions reports, for one sample, which optional fields must be
// transmitted. IsResync true implies all four fields are true.
type Decisions struct {
	Speed, Power, Battery, Heading bool
	IsResync                       bool
}

// AnyField reports whether at least one optional field was flagged.
func (d Decisions) AnyField() bool {
	return d.Speed || d.Power || d.Battery || d.Heading
}

type fieldState struct {
	predicted   float64
	initialised bool
}

func (f *fieldState) decide(actual float64, tol float64) bool {
	if !f.initialised {
		return true
	}
	diff := actual - f.predicted
	if diff < 0 {
		diff = -diff
	}
	return diff > tol
}

func (f *fieldState) update(actual float64) {
	last := f.predicted
	if !f.initialised {
		last = actual
	}
	f.predicted = Alpha*actual + (1-Alpha)*last
	f.initialised = true
}

// Predictor holds one exponentially-smoothed estimate per compressible
// field plus the shared resync clock and statistics counters. Decide
// is not safe for concurrent use — it is called exclusively from the
// agent's single control thread; Stats may be read concurrently.
type Predictor struct {
	mu sync.Mutex // guards Stats() snapshot reads against Decide; Decide itself is single-threaded

	speed, power, battery, heading fieldState

	lastResyncAt time.Time
	now          func() time.Time

	total, transmitted, skipped int64

	// fieldTransmitted is a secondary, purely additive per-field
	// counter reported by Stats(); it does not replace the
	// sample-level total/transmitted/skipped counters. The agent's
	// published snapshot does not carry it.
	fieldTransmitted map[string]int64
}

// New creates a predictor. now defaults to time.Now; tests may inject
// a deterministic clock to control resync timing precisely. The resync
// clock starts at the zero time, so the first Decide is always a
// resync.
func New(now func() time.Time) *Predictor {
	if now == nil {
		now = time.Now
	}
	return &Predictor{
		now:              now,
		fieldTransmitted: make(map[string]int64, 4),
	}
}

// Decide runs the per-sample decision algorithm: it first checks for a
// due resync, otherwise evaluates each field's threshold against the
// previous prediction, then updates every field's smoothed prediction
// from the current actual value. The decision always reflects the
// prediction as it stood BEFORE this sample's update.
func (p *Predictor) Decide(s ingest.Sample) Decisions {
	p.mu.Lock()
	p.total++
	now := p.now()
	resync := now.Sub(p.lastResyncAt) >= ResyncInterval
	if resync {
		p.lastResyncAt = now
	}
	p.mu.Unlock()

	var d Decisions
	if resync {
		d = Decisions{Speed: true, Power: true, Battery: true, Heading: true, IsResync: true}
	} else {
		d = Decisions{
			Speed:   p.speed.decide(float64(s.Speed), SpeedTolerance),
			Power:   p.power.decide(float64(s.Power), PowerTolerance),
			Battery: p.battery.decide(float64(s.Battery), BatteryTolerance),
			Heading: p.heading.decide(float64(s.Heading), HeadingTolerance),
		}
	}

	p.mu.Lock()
	if d.AnyField() {
		p.transmitted++
	} else {
		p.skipped++
	}
	if d.Speed {
		p.fieldTransmitted["speed"]++
	}
	if d.Power {
		p.fieldTransmitted["power"]++
	}
	if d.Battery {
		p.fieldTransmitted["battery"]++
	}
	if d.Heading {
		p.fieldTransmitted["heading"]++
	}
	p.mu.Unlock()

	// Step 5: update smoothed predictions from the current actual
	// value for every field, whether or not it was transmitted.
	p.speed.update(float64(s.Speed))
	p.power.update(float64(s.Power))
	p.battery.update(float64(s.Battery))
	p.heading.update(float64(s.Heading))

	return d
}

// Stats is an immutable snapshot of the predictor's running counters,
// safe to publish to the ambient operational surface.
type Stats struct {
	Total, Transmitted, Skipped int64
	FieldTransmitted             map[string]int64
}

// Stats returns a snapshot of the sample-level and per-field counters.
func (p *Predictor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	fields := make(map[string]int64, len(p.fieldTransmitted))
	for k, v := range p.fieldTransmitted {
		fields[k] = v
	}
	return Stats{
		Total:            p.total,
		Transmitted:      p.transmitted,
		Skipped:          p.skipped,
		FieldTransmitted: fields,
	}
}
