// Package stats provides the statistical capability layer for the
// monitoring service. The Analyzer interface has two implementations:
// the gonum-backed Full analyzer and a Heuristic fallback that never
// claims statistical significance. Every result carries the method
// that produced it so downstream consumers can badge degraded output.
package stats

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Method names reported in results
const (
	MethodKSTest     = "ks_test"
	MethodWelchTTest = "welch_t_test"
	MethodLinReg     = "linear_regression"
	MethodMeanShift  = "mean_shift"
	MethodHeuristic  = "heuristic"
)

// ErrInsufficientData is returned when a test has too few samples to run
var ErrInsufficientData = errors.New("insufficient data for statistical test")

// TwoSampleResult is the outcome of a distributional comparison
type TwoSampleResult struct {
	// Statistic is the KS distance for the test path, or the absolute
	// mean shift for the heuristic path.
	Statistic float64
	// PValue is NaN when the method cannot produce one.
	PValue float64
	Method string
}

// TTestResult is the outcome of a two-sample mean comparison
type TTestResult struct {
	Statistic        float64
	PValue           float64
	DegreesOfFreedom float64
	// CILow/CIHigh bound the mean difference (b - a) at the analyzer's
	// configured confidence level.
	CILow  float64
	CIHigh float64
	Method string
}

// TrendResult is a fitted linear trend over (x, y) pairs
type TrendResult struct {
	Slope     float64
	Intercept float64
	PValue    float64
	StdErr    float64
	RSquared  float64
	Method    string
}

// Analyzer is the statistical capability used by the tracker, drift
// detector and A/B framework. Implementations are chosen at
// construction time, never by runtime type inspection.
type Analyzer interface {
	Name() string
	// CompareDistributions runs a two-sample nonparametric comparison of
	// baseline against current.
	CompareDistributions(baseline, current []float64) (TwoSampleResult, error)
	// CompareMeans runs a two-sample mean comparison of group b against
	// group a. alpha is the significance level used for the confidence
	// interval.
	CompareMeans(a, b []float64, alpha float64) (TTestResult, error)
	// Trend fits a linear trend to (x, y) pairs.
	Trend(xs, ys []float64) (TrendResult, error)
}

// Full is the gonum-backed analyzer: KS test, Welch's t-test and least
// squares regression with proper p-values.
type Full struct{}

// NewFull returns the statistical analyzer
func NewFull() *Full { return &Full{} }

// Name implements Analyzer
func (*Full) Name() string { return "full" }

// CompareDistributions runs a two-sample Kolmogorov-Smirnov test
func (*Full) CompareDistributions(baseline, current []float64) (TwoSampleResult, error) {
	if len(baseline) < 2 || len(current) < 2 {
		return TwoSampleResult{}, ErrInsufficientData
	}

	// gonum's KolmogorovSmirnov requires sorted input
	bs := append([]float64(nil), baseline...)
	cs := append([]float64(nil), current...)
	sort.Float64s(bs)
	sort.Float64s(cs)

	d := stat.KolmogorovSmirnov(bs, nil, cs, nil)
	p := ksPValue(d, len(bs), len(cs))

	return TwoSampleResult{Statistic: d, PValue: p, Method: MethodKSTest}, nil
}

// ksPValue approximates the two-sample KS p-value with the asymptotic
// Kolmogorov distribution and the usual small-sample correction.
func ksPValue(d float64, n1, n2 int) float64 {
	ne := float64(n1) * float64(n2) / float64(n1+n2)
	sqrtNe := math.Sqrt(ne)
	lambda := (sqrtNe + 0.12 + 0.11/sqrtNe) * d

	if lambda <= 0 {
		return 1
	}

	// Q(lambda) = 2 * sum_{j>=1} (-1)^{j-1} exp(-2 j^2 lambda^2)
	sum := 0.0
	sign := 1.0
	for j := 1; j <= 100; j++ {
		term := sign * math.Exp(-2*float64(j)*float64(j)*lambda*lambda)
		sum += term
		if math.Abs(term) < 1e-10 {
			break
		}
		sign = -sign
	}
	p := 2 * sum
	return math.Min(math.Max(p, 0), 1)
}

// CompareMeans runs Welch's two-sample t-test of b against a
func (*Full) CompareMeans(a, b []float64, alpha float64) (TTestResult, error) {
	if len(a) < 2 || len(b) < 2 {
		return TTestResult{}, ErrInsufficientData
	}

	meanA := stat.Mean(a, nil)
	meanB := stat.Mean(b, nil)
	varA := stat.Variance(a, nil)
	varB := stat.Variance(b, nil)
	n1, n2 := float64(len(a)), float64(len(b))

	se := math.Sqrt(varA/n1 + varB/n2)
	if se == 0 {
		return TTestResult{}, ErrInsufficientData
	}
	t := (meanB - meanA) / se

	// Welch-Satterthwaite degrees of freedom
	df := math.Pow(varA/n1+varB/n2, 2) /
		(math.Pow(varA/n1, 2)/(n1-1) + math.Pow(varB/n2, 2)/(n2-1))

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * (1 - dist.CDF(math.Abs(t)))

	crit := dist.Quantile(1 - alpha/2)
	diff := meanB - meanA

	return TTestResult{
		Statistic:        t,
		PValue:           p,
		DegreesOfFreedom: df,
		CILow:            diff - crit*se,
		CIHigh:           diff + crit*se,
		Method:           MethodWelchTTest,
	}, nil
}

// Trend fits a least squares line and tests the slope against zero
func (*Full) Trend(xs, ys []float64) (TrendResult, error) {
	n := len(xs)
	if n < 2 || len(ys) != n {
		return TrendResult{}, ErrInsufficientData
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, alpha, beta)

	if n == 2 {
		// Perfect fit, no residual degrees of freedom to test against.
		return TrendResult{Slope: beta, Intercept: alpha, PValue: 1, RSquared: r2, Method: MethodLinReg}, nil
	}

	meanX := stat.Mean(xs, nil)
	var ssr, sxx float64
	for i := range xs {
		resid := ys[i] - (alpha + beta*xs[i])
		ssr += resid * resid
		dx := xs[i] - meanX
		sxx += dx * dx
	}
	if sxx == 0 {
		return TrendResult{}, ErrInsufficientData
	}

	stderr := math.Sqrt(ssr / float64(n-2) / sxx)
	p := 1.0
	if stderr > 0 {
		t := beta / stderr
		dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}
		p = 2 * (1 - dist.CDF(math.Abs(t)))
	}

	return TrendResult{
		Slope:     beta,
		Intercept: alpha,
		PValue:    p,
		StdErr:    stderr,
		RSquared:  r2,
		Method:    MethodLinReg,
	}, nil
}

// Heuristic is the degraded analyzer used when proper statistical
// testing is disabled. Its verdicts are magnitude-only and every
// result is flagged so callers can surface the degradation.
type Heuristic struct{}

// NewHeuristic returns the fallback analyzer
func NewHeuristic() *Heuristic { return &Heuristic{} }

// Name implements Analyzer
func (*Heuristic) Name() string { return MethodHeuristic }

// CompareDistributions reports the absolute mean shift between samples.
// PValue is NaN: no significance can be claimed.
func (*Heuristic) CompareDistributions(baseline, current []float64) (TwoSampleResult, error) {
	if len(baseline) == 0 || len(current) == 0 {
		return TwoSampleResult{}, ErrInsufficientData
	}
	shift := math.Abs(Mean(current) - Mean(baseline))
	return TwoSampleResult{Statistic: shift, PValue: math.NaN(), Method: MethodMeanShift}, nil
}

// CompareMeans reports means without a significance test: PValue is 1
// so callers never declare significance on heuristic output.
func (*Heuristic) CompareMeans(a, b []float64, alpha float64) (TTestResult, error) {
	if len(a) == 0 || len(b) == 0 {
		return TTestResult{}, ErrInsufficientData
	}
	return TTestResult{
		Statistic: Mean(b) - Mean(a),
		PValue:    1,
		Method:    MethodHeuristic,
	}, nil
}

// Trend averages the per-step change between the first and last value
func (*Heuristic) Trend(xs, ys []float64) (TrendResult, error) {
	n := len(ys)
	if n < 2 || len(xs) != n {
		return TrendResult{}, ErrInsufficientData
	}
	return TrendResult{
		Slope:  (ys[n-1] - ys[0]) / float64(n),
		PValue: 0.5, // unknown without a statistical test
		Method: MethodHeuristic,
	}, nil
}

// Mean is a convenience wrapper over gonum for empty-safe averaging
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// Variance is the sample variance of xs
func Variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.Variance(xs, nil)
}

// CohenD computes the standardized mean difference of b over a using
// the pooled standard deviation.
func CohenD(a, b []float64) float64 {
	n1, n2 := float64(len(a)), float64(len(b))
	if n1 < 2 || n2 < 2 {
		return 0
	}
	pooled := math.Sqrt(((n1-1)*Variance(a) + (n2-1)*Variance(b)) / (n1 + n2 - 2))
	if pooled == 0 {
		return 0
	}
	return (Mean(b) - Mean(a)) / pooled
}
