// Package stats implements the closed-form statistics the experimentation
// engine needs: normal distribution helpers, two-proportion sample-size
// planning, Welch's t-test, chi-square and Mann-Whitney U tests, and Wald
// confidence intervals. No external dependencies - uses only standard library.
//
// All functions guard against degenerate inputs (zero samples, zero variance)
// and return conservative values instead of NaN so callers can always render
// a result, however inconclusive.
package stats

import (
	"math"
	"sort"
)

// ─────────────────────────────────────────────────────────────────────────────
// Normal distribution
// ─────────────────────────────────────────────────────────────────────────────

// NormalCDF returns P(Z <= z) for a standard normal variable.
func NormalCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

// zTable holds the classic one-sided critical values for the confidence
// levels experiments are normally configured with. InverseNormalCDF covers
// everything else; the table keeps the common path exact and cheap.
var zTable = map[float64]float64{
	0.90:  1.282,
	0.95:  1.645,
	0.975: 1.96,
	0.99:  2.33,
	0.995: 2.576,
}

// ZScore returns the one-sided z critical value for the given cumulative
// probability. Known confidence levels come from the lookup table; anything
// else falls through to the inverse normal CDF.
func ZScore(p float64) float64 {
	if z, ok := zTable[p]; ok {
		return z
	}
	return InverseNormalCDF(p)
}

// InverseNormalCDF returns z such that NormalCDF(z) = p, using Acklam's
// rational approximation (relative error below 1.15e-9 over (0,1)).
func InverseNormalCDF(p float64) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	if p >= 1 {
		return math.Inf(1)
	}

	a := [6]float64{-3.969683028665376e+01, 2.209460984245205e+02, -2.759285104469687e+02,
		1.383577518672690e+02, -3.066479806614716e+01, 2.506628277459239e+00}
	b := [5]float64{-5.447609879822406e+01, 1.615858368580409e+02, -1.556989798598866e+02,
		6.680131188771972e+01, -1.328068155288572e+01}
	c := [6]float64{-7.784894002430293e-03, -3.223964580411365e-01, -2.400758277161838e+00,
		-2.549732539343734e+00, 4.374664141464968e+00, 2.938163982698783e+00}
	d := [4]float64{7.784695709041462e-03, 3.224671290700398e-01, 2.445134137142996e+00,
		3.754408661907416e+00}

	const plow = 0.02425
	const phigh = 1 - plow

	switch {
	case p < plow:
		q := math.Sqrt(-2 * math.Log(p))
		return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	case p > phigh:
		q := math.Sqrt(-2 * math.Log(1-p))
		return -(((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	default:
		q := p - 0.5
		r := q * q
		return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
			(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Sample-size planning
// ─────────────────────────────────────────────────────────────────────────────

// RequiredSampleSize returns the per-arm sample size needed to detect a
// relative effect of mdePercent on a baseline conversion rate, using the
// normal-approximation two-proportion formula:
//
//	n = 2·p̄(1-p̄)·(z_{1-α/2}+z_{1-β})² / (p2-p1)²
//
// baseline is a proportion in (0,1), mdePercent a relative percent (e.g. 10
// for a 10% lift), alpha the significance level and power the desired 1-β.
func RequiredSampleSize(baseline, mdePercent, alpha, power float64) int {
	if baseline <= 0 || baseline >= 1 || mdePercent <= 0 {
		return 0
	}
	p1 := baseline
	p2 := p1 * (1 + mdePercent/100)
	if p2 >= 1 {
		p2 = 0.9999
	}

	zAlpha := ZScore(1 - alpha/2)
	zBeta := ZScore(power)

	pBar := (p1 + p2) / 2
	delta := p2 - p1

	n := 2 * pBar * (1 - pBar) * math.Pow(zAlpha+zBeta, 2) / (delta * delta)
	return int(math.Ceil(n))
}

// ─────────────────────────────────────────────────────────────────────────────
// Significance tests
// ─────────────────────────────────────────────────────────────────────────────

// TestResult is the outcome of a hypothesis test.
type TestResult struct {
	Statistic float64
	PValue    float64
	// Significant is true when PValue < 0.05.
	Significant bool
}

// Sample summarizes one arm of an experiment for testing.
type Sample struct {
	Mean     float64
	Variance float64
	N        int
}

// Summarize computes the mean and unbiased variance of raw observations.
func Summarize(values []float64) Sample {
	n := len(values)
	if n == 0 {
		return Sample{}
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	variance := 0.0
	if n > 1 {
		variance = ss / float64(n-1)
	}
	return Sample{Mean: mean, Variance: variance, N: n}
}

// WelchTTest performs a two-sample t-test with unequal variances.
// The two-tailed p-value uses the normal CDF, which is accurate for the
// sample sizes experiments run at.
func WelchTTest(a, b Sample) TestResult {
	if a.N == 0 || b.N == 0 {
		return TestResult{PValue: 1}
	}

	se := math.Sqrt(a.Variance/float64(a.N) + b.Variance/float64(b.N))
	if se == 0 {
		if a.Mean == b.Mean {
			return TestResult{PValue: 1}
		}
		// Identical observations within arms but different means:
		// the difference is exact, not sampled.
		return TestResult{Statistic: math.Inf(1), PValue: 0, Significant: true}
	}

	t := (a.Mean - b.Mean) / se
	p := 2 * (1 - NormalCDF(math.Abs(t)))
	return TestResult{Statistic: t, PValue: p, Significant: p < 0.05}
}

// Proportion is a conversion count over a trial count.
type Proportion struct {
	Successes int
	Trials    int
}

// ChiSquareTest performs a chi-square test of independence on a 2×k
// contingency table of converted/not-converted counts per arm.
func ChiSquareTest(arms []Proportion) TestResult {
	if len(arms) < 2 {
		return TestResult{PValue: 1}
	}

	var totalSuccess, totalTrials int
	for _, arm := range arms {
		totalSuccess += arm.Successes
		totalTrials += arm.Trials
	}
	if totalTrials == 0 || totalSuccess == 0 || totalSuccess == totalTrials {
		return TestResult{PValue: 1}
	}

	pPooled := float64(totalSuccess) / float64(totalTrials)

	var stat float64
	for _, arm := range arms {
		if arm.Trials == 0 {
			continue
		}
		expectedSuccess := pPooled * float64(arm.Trials)
		expectedFailure := (1 - pPooled) * float64(arm.Trials)
		dS := float64(arm.Successes) - expectedSuccess
		dF := float64(arm.Trials-arm.Successes) - expectedFailure
		stat += dS * dS / expectedSuccess
		stat += dF * dF / expectedFailure
	}

	df := float64(len(arms) - 1)
	p := ChiSquareSurvival(stat, df)
	return TestResult{Statistic: stat, PValue: p, Significant: p < 0.05}
}

// ChiSquareSurvival returns P(X > x) for a chi-square variable with df
// degrees of freedom, via the regularized upper incomplete gamma function.
func ChiSquareSurvival(x, df float64) float64 {
	if x <= 0 || df <= 0 {
		return 1
	}
	return regularizedGammaQ(df/2, x/2)
}

// MannWhitneyU performs a two-sided Mann-Whitney U test using the normal
// approximation with tie correction. Suitable for the sample sizes the
// engine sees; exact enumeration for tiny n is not worth the complexity.
func MannWhitneyU(a, b []float64) TestResult {
	n1, n2 := len(a), len(b)
	if n1 == 0 || n2 == 0 {
		return TestResult{PValue: 1}
	}

	type obs struct {
		value float64
		group int
	}
	all := make([]obs, 0, n1+n2)
	for _, v := range a {
		all = append(all, obs{v, 0})
	}
	for _, v := range b {
		all = append(all, obs{v, 1})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].value < all[j].value })

	// Midranks for ties, accumulating the tie correction term.
	ranks := make([]float64, len(all))
	var tieTerm float64
	for i := 0; i < len(all); {
		j := i
		for j < len(all) && all[j].value == all[i].value {
			j++
		}
		mid := float64(i+j+1) / 2 // average of 1-based ranks i+1..j
		for k := i; k < j; k++ {
			ranks[k] = mid
		}
		t := float64(j - i)
		tieTerm += t*t*t - t
		i = j
	}

	var r1 float64
	for i, o := range all {
		if o.group == 0 {
			r1 += ranks[i]
		}
	}

	u1 := r1 - float64(n1)*float64(n1+1)/2
	u2 := float64(n1)*float64(n2) - u1
	u := math.Min(u1, u2)

	nTotal := float64(n1 + n2)
	mu := float64(n1) * float64(n2) / 2
	sigma2 := float64(n1) * float64(n2) / 12 *
		((nTotal + 1) - tieTerm/(nTotal*(nTotal-1)))
	if sigma2 <= 0 {
		return TestResult{PValue: 1}
	}

	z := (u - mu) / math.Sqrt(sigma2)
	p := 2 * NormalCDF(z) // u is the smaller statistic, z <= 0
	if p > 1 {
		p = 1
	}
	return TestResult{Statistic: u, PValue: p, Significant: p < 0.05}
}

// ─────────────────────────────────────────────────────────────────────────────
// Confidence intervals
// ─────────────────────────────────────────────────────────────────────────────

// Interval is a confidence interval clamped to [0,1] for proportions.
type Interval struct {
	Lower float64
	Upper float64
}

// WaldInterval returns the 95% Wald interval for a proportion:
// rate ± 1.96·sqrt(rate(1-rate)/n), clamped to [0,1].
// A zero sample yields the degenerate interval [0,0].
func WaldInterval(rate float64, n int) Interval {
	if n <= 0 {
		return Interval{}
	}
	margin := 1.96 * math.Sqrt(rate*(1-rate)/float64(n))
	return Interval{
		Lower: math.Max(0, rate-margin),
		Upper: math.Min(1, rate+margin),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Regularized incomplete gamma (series + continued fraction)
// ─────────────────────────────────────────────────────────────────────────────

const (
	gammaMaxIterations = 200
	gammaEpsilon       = 3e-14
)

// regularizedGammaQ computes Q(a,x) = 1 - P(a,x).
func regularizedGammaQ(a, x float64) float64 {
	if x < 0 || a <= 0 {
		return 1
	}
	if x == 0 {
		return 1
	}
	if x < a+1 {
		return 1 - gammaSeriesP(a, x)
	}
	return gammaContinuedFractionQ(a, x)
}

// gammaSeriesP evaluates P(a,x) by its series representation, valid for x < a+1.
func gammaSeriesP(a, x float64) float64 {
	lg, _ := math.Lgamma(a)
	ap := a
	sum := 1 / a
	del := sum
	for i := 0; i < gammaMaxIterations; i++ {
		ap++
		del *= x / ap
		sum += del
		if math.Abs(del) < math.Abs(sum)*gammaEpsilon {
			break
		}
	}
	return sum * math.Exp(-x+a*math.Log(x)-lg)
}

// gammaContinuedFractionQ evaluates Q(a,x) by its continued fraction, valid
// for x >= a+1. Lentz's method with the usual tiny-value guard.
func gammaContinuedFractionQ(a, x float64) float64 {
	const tiny = 1e-30

	lg, _ := math.Lgamma(a)
	b := x + 1 - a
	c := 1 / tiny
	d := 1 / b
	h := d
	for i := 1; i <= gammaMaxIterations; i++ {
		an := -float64(i) * (float64(i) - a)
		b += 2
		d = an*d + b
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = b + an/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < gammaEpsilon {
			break
		}
	}
	return math.Exp(-x+a*math.Log(x)-lg) * h
}
