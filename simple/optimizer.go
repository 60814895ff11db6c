package simple

import "math"

type optimizer interface {
	step(m *Model, g *grads)
}

func newOptimizer(m *Model) optimizer {
	if m.Config.Optimizer == "sgd" {
		return &sgd{}
	}
	return &adam{
		m: m.zeroGrads(),
		v: m.zeroGrads(),
	}
}

// prepare adds the L2 penalty to every gradient and applies global norm
// clipping.
func prepare(m *Model, g *grads) {
	wd := float32(m.Config.WeightDecay)
	if wd != 0 {
		for l := range g.w {
			for j := range g.w[l] {
				for i := range g.w[l][j] {
					g.w[l][j][i] += wd * m.weights[l][j][i]
				}
				g.b[l][j] += wd * m.biases[l][j]
			}
		}
	}
	if m.Config.ClipNorm <= 0 {
		return
	}
	var sq float64
	for l := range g.w {
		for j := range g.w[l] {
			for _, v := range g.w[l][j] {
				sq += float64(v) * float64(v)
			}
			sq += float64(g.b[l][j]) * float64(g.b[l][j])
		}
	}
	norm := math.Sqrt(sq)
	if norm <= m.Config.ClipNorm {
		return
	}
	s := float32(m.Config.ClipNorm / norm)
	for l := range g.w {
		for j := range g.w[l] {
			for i := range g.w[l][j] {
				g.w[l][j][i] *= s
			}
			g.b[l][j] *= s
		}
	}
}

type sgd struct{}

func (sgd) step(m *Model, g *grads) {
	prepare(m, g)
	lr := float32(m.Config.LearningRate)
	for l := range m.weights {
		for j := range m.weights[l] {
			for i := range m.weights[l][j] {
				m.weights[l][j][i] -= lr * g.w[l][j][i]
			}
			m.biases[l][j] -= lr * g.b[l][j]
		}
	}
}

// adam keeps bias-corrected first and second moment estimates with the
// same layout as the parameters.
type adam struct {
	m, v *grads
	t    int
}

func (a *adam) step(m *Model, g *grads) {
	prepare(m, g)
	a.t++
	b1, b2 := m.Config.Beta1, m.Config.Beta2
	c1 := 1 - math.Pow(b1, float64(a.t))
	c2 := 1 - math.Pow(b2, float64(a.t))
	lr := m.Config.LearningRate
	eps := m.Config.Epsilon

	update := func(param, grad, mom, vel *float32) {
		gr := float64(*grad)
		mo := b1*float64(*mom) + (1-b1)*gr
		ve := b2*float64(*vel) + (1-b2)*gr*gr
		*mom, *vel = float32(mo), float32(ve)
		*param -= float32(lr * (mo / c1) / (math.Sqrt(ve/c2) + eps))
	}

	for l := range m.weights {
		for j := range m.weights[l] {
			for i := range m.weights[l][j] {
				update(&m.weights[l][j][i], &g.w[l][j][i], &a.m.w[l][j][i], &a.v.w[l][j][i])
			}
			update(&m.biases[l][j], &g.b[l][j], &a.m.b[l][j], &a.v.b[l][j])
		}
	}
}
