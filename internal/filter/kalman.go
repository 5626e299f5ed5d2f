package filter

import (
	"gonum.org/v1/gonum/mat"
)

// GateConfig configures the optional post-warm-up outlier gate.
type GateConfig struct {
	Enabled bool
	// ProcessNoise is the white acceleration noise density (m²/s³).
	ProcessNoise float64
	// GateMahalanobisSq is the squared Mahalanobis distance above which a fix is rejected.
	GateMahalanobisSq float64
	// DefaultAccuracy is used as measurement std when a fix reports none.
	DefaultAccuracy float64
}

// DefaultGateConfig returns a disabled gate with the standard tuning.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Enabled:           false,
		ProcessNoise:      1.0,
		GateMahalanobisSq: 9.0,
		DefaultAccuracy:   10,
	}
}

// Kalman is a constant-velocity filter over local plane coordinates.
// State is [x, y, vx, vy] in meters and meters per second.
type Kalman struct {
	cfg GateConfig
	x   *mat.VecDense
	p   *mat.Dense
	h   *mat.Dense

	lastDistance float64
}

// NewKalman creates an uninitialized filter; call Init before use.
func NewKalman(cfg GateConfig) *Kalman {
	return &Kalman{
		cfg: cfg,
		h: mat.NewDense(2, 4, []float64{
			1, 0, 0, 0,
			0, 1, 0, 0,
		}),
	}
}

// Init places the filter at (x, y) at rest.
func (k *Kalman) Init(x, y float64) {
	posVar := k.cfg.DefaultAccuracy * k.cfg.DefaultAccuracy
	k.x = mat.NewVecDense(4, []float64{x, y, 0, 0})
	k.p = mat.NewDense(4, 4, []float64{
		posVar, 0, 0, 0,
		0, posVar, 0, 0,
		0, 0, 25, 0,
		0, 0, 0, 25,
	})
}

// Predict advances the state by dt seconds.
func (k *Kalman) Predict(dt float64) {
	if dt <= 0 {
		dt = 1e-3
	}
	f := mat.NewDense(4, 4, []float64{
		1, 0, dt, 0,
		0, 1, 0, dt,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})

	var x mat.VecDense
	x.MulVec(f, k.x)
	k.x = &x

	d2 := dt * dt / 2
	d3 := dt * dt * dt / 3
	q := mat.NewDense(4, 4, []float64{
		d3, 0, d2, 0,
		0, d3, 0, d2,
		d2, 0, dt, 0,
		0, d2, 0, dt,
	})
	q.Scale(k.cfg.ProcessNoise, q)

	var fp, p mat.Dense
	fp.Mul(f, k.p)
	p.Mul(&fp, f.T())
	p.Add(&p, q)
	k.p = &p
}

// Update fuses a measurement with the given std in meters. It returns false
// and leaves the state untouched when the innovation falls outside the gate.
func (k *Kalman) Update(zx, zy, std float64) bool {
	z := mat.NewVecDense(2, []float64{zx, zy})

	var hx, innov mat.VecDense
	hx.MulVec(k.h, k.x)
	innov.SubVec(z, &hx)

	var ph, s mat.Dense
	ph.Mul(k.p, k.h.T())
	s.Mul(k.h, &ph)
	r := std * std
	s.Set(0, 0, s.At(0, 0)+r)
	s.Set(1, 1, s.At(1, 1)+r)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return false
	}

	k.lastDistance = mat.Inner(&innov, &sInv, &innov)
	if k.lastDistance > k.cfg.GateMahalanobisSq {
		return false
	}

	var gain mat.Dense
	gain.Mul(&ph, &sInv)

	var correction mat.VecDense
	correction.MulVec(&gain, &innov)
	k.x.AddVec(k.x, &correction)

	var kh, ikh, p mat.Dense
	kh.Mul(&gain, k.h)
	ikh.Sub(identity4(), &kh)
	p.Mul(&ikh, k.p)
	k.p = &p
	return true
}

// Position returns the filtered position.
func (k *Kalman) Position() (x, y float64) {
	return k.x.AtVec(0), k.x.AtVec(1)
}

// Velocity returns the filtered velocity.
func (k *Kalman) Velocity() (vx, vy float64) {
	return k.x.AtVec(2), k.x.AtVec(3)
}

// LastDistance returns the squared Mahalanobis distance of the last update.
func (k *Kalman) LastDistance() float64 {
	return k.lastDistance
}

func identity4() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}
