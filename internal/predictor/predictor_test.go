package predictor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/tesgazer-edge/internal/ingest"
)

// clock is a manually-advanced time source for deterministic resync
// timing in tests.
type clock struct{ t time.Time }

func (c *clock) now() time.Time  { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func sample(ts int64, speed, power float32, battery, heading int32) ingest.Sample {
	return ingest.Sample{Timestamp: ts, Speed: speed, Power: power, Battery: battery, Heading: heading}
}

// TestDecide_FirstObservationAlwaysTransmits verifies that the very
// first sample on an uninitialised predictor must transmit every
// field, since there is no prior prediction to compare against.
func TestDecide_FirstObservationAlwaysTransmits(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	p := New(c.now)

	d := p.Decide(sample(0, 60, 20, 80, 90))
	assert.True(t, d.IsResync, "first sample always coincides with the initial resync window")
	assert.True(t, d.Speed)
	assert.True(t, d.Power)
	assert.True(t, d.Battery)
	assert.True(t, d.Heading)
}

// TestDecide_Determinism verifies that feeding the same sequence of
// samples into two fresh predictors yields identical decisions at
// every step.
func TestDecide_Determinism(t *testing.T) {
	samples := []ingest.Sample{
		sample(0, 60, 20, 80, 90),
		sample(1, 61, 21, 79, 91),
		sample(2, 70, 35, 78, 95),
		sample(3, 70.5, 35.2, 78, 95),
	}

	run := func() []Decisions {
		c := &clock{t: time.Unix(0, 0)}
		p := New(c.now)
		var out []Decisions
		for _, s := range samples {
			out = append(out, p.Decide(s))
			c.advance(time.Second)
		}
		return out
	}

	a, b := run(), run()
	assert.Equal(t, a, b)
}

// TestDecide_ThresholdCrossing verifies that a field whose value stays
// within tolerance of the smoothed prediction is skipped, and crossing
// the tolerance flips it to transmitted.
func TestDecide_ThresholdCrossing(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	p := New(c.now)

	// Prime the predictor so it is initialised and past the first
	// forced resync window.
	p.Decide(sample(0, 60, 20, 80, 90))
	c.advance(time.Second)

	// A tiny move should stay under every tolerance and be skipped.
	d := p.Decide(sample(1, 60.1, 20.1, 80.0, 90.0))
	assert.False(t, d.AnyField(), "small deltas within tolerance must not transmit")

	c.advance(time.Second)

	// A large jump in speed should cross its 2.0 mph tolerance.
	d = p.Decide(sample(2, 90, 20.1, 80.0, 90.0))
	assert.True(t, d.Speed)
	assert.False(t, d.Power)
	assert.False(t, d.Battery)
	assert.False(t, d.Heading)
}

// TestDecide_ResyncCadence verifies that a forced full transmission
// occurs whenever at least ResyncInterval has elapsed since the
// previous one, regardless of field deltas.
func TestDecide_ResyncCadence(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	p := New(c.now)

	d := p.Decide(sample(0, 60, 20, 80, 90))
	require.True(t, d.IsResync)

	c.advance(10 * time.Second)
	d = p.Decide(sample(1, 60, 20, 80, 90))
	assert.False(t, d.IsResync)
	assert.False(t, d.AnyField())

	c.advance(25 * time.Second) // total elapsed since last resync: 35s >= 30s
	d = p.Decide(sample(2, 60, 20, 80, 90))
	assert.True(t, d.IsResync)
	assert.True(t, d.Speed)
	assert.True(t, d.Power)
	assert.True(t, d.Battery)
	assert.True(t, d.Heading)
}

// TestDecide_ToggleDoesNotResetPredictor verifies that toggling link
// state has no bearing on the predictor's internal state — it is
// owned and driven solely by the stream of samples.
func TestDecide_ToggleDoesNotResetPredictor(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	p := New(c.now)

	p.Decide(sample(0, 60, 20, 80, 90))
	c.advance(time.Second)
	p.Decide(sample(1, 60.1, 20.0, 80.0, 90.0))

	statsBefore := p.Stats()

	// Simulate link toggling off and back on: nothing in Predictor is
	// reachable from link state, so behavior is unaffected.
	c.advance(time.Second)
	d := p.Decide(sample(2, 60.1, 20.0, 80.0, 90.0))
	assert.False(t, d.AnyField())

	statsAfter := p.Stats()
	assert.Equal(t, statsBefore.Total+1, statsAfter.Total)
}

func TestStats_CountsTotalsTransmittedSkipped(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	p := New(c.now)

	p.Decide(sample(0, 60, 20, 80, 90)) // resync: transmitted
	c.advance(time.Second)
	p.Decide(sample(1, 60, 20, 80, 90)) // no delta: skipped
	c.advance(time.Second)
	p.Decide(sample(2, 90, 20, 80, 90)) // speed jump: transmitted

	s := p.Stats()
	assert.Equal(t, int64(3), s.Total)
	assert.Equal(t, int64(2), s.Transmitted)
	assert.Equal(t, int64(1), s.Skipped)
}
