package reference

import "gonum.org/v1/gonum/stat/distuv"

func betaQuantile(a, b, p float64) float64 {
	return distuv.Beta{Alpha: a, Beta: b}.Quantile(p)
}
