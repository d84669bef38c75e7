package anomaly

import "math"

// Scaler is a mean/variance feature-scaling transform fitted at training
// time and applied before scoring. Exported fields make the fitted scaler
// JSON-serializable for persistence.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// Fit computes per-feature mean and population standard deviation.
func (s *Scaler) Fit(samples [][]float64) {
	if len(samples) == 0 {
		return
	}
	dim := len(samples[0])
	s.Mean = make([]float64, dim)
	s.Std = make([]float64, dim)

	for _, row := range samples {
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	n := float64(len(samples))
	for j := range s.Mean {
		s.Mean[j] /= n
	}

	for _, row := range samples {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Std[j] += d * d
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / n)
		// Constant features pass through unscaled.
		if s.Std[j] == 0 {
			s.Std[j] = 1
		}
	}
}

// Fitted reports whether the scaler has been fitted.
func (s *Scaler) Fitted() bool { return len(s.Mean) > 0 }

// Transform returns a scaled copy of v. If the scaler is unfitted or the
// dimensions disagree, v is returned unchanged.
func (s *Scaler) Transform(v []float64) []float64 {
	if !s.Fitted() || len(v) != len(s.Mean) {
		return v
	}
	out := make([]float64, len(v))
	for j, x := range v {
		out[j] = (x - s.Mean[j]) / s.Std[j]
	}
	return out
}

// TransformAll scales every row of samples.
func (s *Scaler) TransformAll(samples [][]float64) [][]float64 {
	out := make([][]float64, len(samples))
	for i, row := range samples {
		out[i] = s.Transform(row)
	}
	return out
}
