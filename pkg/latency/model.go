package latency

// linearModel predicts latency as intercept + Σ(coef_i × feature_i).
type linearModel struct {
	names     []string
	coefs     []float64
	intercept float64
	samples   int
}

func (m *linearModel) eval(features map[string]float64) float64 {
	y := m.intercept
	for i, n := range m.names {
		y += m.coefs[i] * features[n]
	}
	return y
}

// fitOLS fits one coefficient per feature by ordinary least squares on the
// centered feature/latency pairs. Features with zero variance get a zero
// coefficient; their contribution folds into the intercept.
func fitOLS(names []string, xs [][]float64, ys []float64) *linearModel {
	n := len(ys)
	if n == 0 || len(xs) != n {
		return nil
	}
	meanY := mean(ys)
	meanX := make([]float64, len(names))
	for f := range names {
		s := 0.0
		for i := 0; i < n; i++ {
			s += xs[i][f]
		}
		meanX[f] = s / float64(n)
	}

	coefs := make([]float64, len(names))
	for f := range names {
		num, den := 0.0, 0.0
		for i := 0; i < n; i++ {
			dx := xs[i][f] - meanX[f]
			num += dx * (ys[i] - meanY)
			den += dx * dx
		}
		if den > 0 {
			coefs[f] = num / den
		}
	}

	intercept := meanY
	for f := range names {
		intercept -= coefs[f] * meanX[f]
	}
	return &linearModel{names: names, coefs: coefs, intercept: intercept, samples: n}
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	s := 0.0
	for _, v := range vs {
		s += v
	}
	return s / float64(len(vs))
}
