package core

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"fraud-pipeline/internal/core/utils"
)

const (
	// ks p-value below which a numeric column counts as drifted
	KSAlpha = 0.05
	// Jensen-Shannon distance at or above which a categorical column counts as drifted
	JSThreshold = 0.1

	driftWorkers = 4
)

type ColumnDrift struct {
	Column    string
	Method    string
	Statistic float64
	Threshold float64
	Drifted   bool
}

type DriftResult struct {
	Columns      []ColumnDrift
	DriftedCount int
	Share        float64
}

// CompareTables computes the share of reference columns whose distribution
// shifted in current. Columns missing from current are counted as drifted.
func CompareTables(reference, current *Table) (DriftResult, error) {
	if len(reference.Columns) == 0 {
		return DriftResult{}, fmt.Errorf("reference dataset has no columns")
	}
	if reference.Len() == 0 || current.Len() == 0 {
		return DriftResult{}, fmt.Errorf("cannot compare empty datasets")
	}

	columns, err := utils.ParallelMap(reference.Columns, func(col string) (ColumnDrift, error) {
		return compareColumn(col, reference, current)
	}, driftWorkers)
	if err != nil {
		return DriftResult{}, err
	}

	result := DriftResult{Columns: columns}
	for _, c := range result.Columns {
		if c.Drifted {
			result.DriftedCount++
		}
	}
	result.Share = float64(result.DriftedCount) / float64(len(result.Columns))
	return result, nil
}

func compareColumn(col string, reference, current *Table) (ColumnDrift, error) {
	ref, err := reference.Column(col)
	if err != nil {
		return ColumnDrift{}, err
	}
	cur, err := current.Column(col)
	if err != nil {
		return ColumnDrift{Column: col, Method: "missing", Statistic: 1, Drifted: true}, nil
	}

	refNum, refOk := parseFloats(ref)
	curNum, curOk := parseFloats(cur)
	if refOk && curOk {
		p := KSPValue(KSStatistic(refNum, curNum), len(refNum), len(curNum))
		return ColumnDrift{Column: col, Method: "ks", Statistic: p, Threshold: KSAlpha, Drifted: p < KSAlpha}, nil
	}

	d := JensenShannonDistance(ref, cur)
	return ColumnDrift{Column: col, Method: "jensenshannon", Statistic: d, Threshold: JSThreshold, Drifted: d >= JSThreshold}, nil
}

func parseFloats(values []string) ([]float64, bool) {
	out := make([]float64, len(values))
	for i, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

// KSStatistic is the two-sample Kolmogorov-Smirnov D statistic.
func KSStatistic(a, b []float64) float64 {
	x := append([]float64(nil), a...)
	y := append([]float64(nil), b...)
	sort.Float64s(x)
	sort.Float64s(y)

	var i, j int
	var d float64
	nx, ny := float64(len(x)), float64(len(y))
	for i < len(x) && j < len(y) {
		v := math.Min(x[i], y[j])
		for i < len(x) && x[i] <= v {
			i++
		}
		for j < len(y) && y[j] <= v {
			j++
		}
		d = math.Max(d, math.Abs(float64(i)/nx-float64(j)/ny))
	}
	return d
}

// KSPValue uses the asymptotic Kolmogorov distribution.
func KSPValue(d float64, n, m int) float64 {
	en := math.Sqrt(float64(n*m) / float64(n+m))
	lambda := (en + 0.12 + 0.11/en) * d
	if lambda < 1e-3 {
		return 1
	}

	var sum float64
	sign := 1.0
	for k := 1; k <= 100; k++ {
		term := sign * math.Exp(-2*float64(k*k)*lambda*lambda)
		sum += term
		if math.Abs(term) < 1e-10 {
			break
		}
		sign = -sign
	}
	return math.Max(0, math.Min(1, 2*sum))
}

func JensenShannonDistance(a, b []string) float64 {
	pa, pb := frequencies(a), frequencies(b)

	keys := map[string]struct{}{}
	for k := range pa {
		keys[k] = struct{}{}
	}
	for k := range pb {
		keys[k] = struct{}{}
	}

	var divergence float64
	for k := range keys {
		p, q := pa[k], pb[k]
		m := (p + q) / 2
		if p > 0 {
			divergence += 0.5 * p * math.Log2(p/m)
		}
		if q > 0 {
			divergence += 0.5 * q * math.Log2(q/m)
		}
	}
	return math.Sqrt(math.Max(0, divergence))
}

func frequencies(values []string) map[string]float64 {
	out := map[string]float64{}
	for _, v := range values {
		out[v]++
	}
	n := float64(len(values))
	for k := range out {
		out[k] /= n
	}
	return out
}
