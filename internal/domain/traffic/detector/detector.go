// Package detector implements the four component scorers TrafficMonitor
// composes into its threat score: domain-generation-algorithm detection,
// beaconing regularity, exfiltration ratio, and DNS tunnelling. Each
// detector is a small, independently constructible value type; a nil
// detector is checked explicitly by the caller and contributes score 0
// rather than panicking, so a failed detector initialisation degrades the
// monitor instead of disabling it.
package detector

import (
	"math"
	"strings"
	"time"
)

// Verdict is the common shape every detector's heuristic analyser returns:
// a confidence in [0,1] and whether the detector's own rule fired. When
// Flagged is set, consumers take Confidence verbatim instead of blending
// it away.
type Verdict struct {
	Flagged    bool
	Confidence float64
}

// DGADetector scores a domain name for algorithmic generation using
// Shannon entropy, n-gram plausibility, and consonant-ratio heuristics.
type DGADetector struct {
	// EntropyNormalizer maps raw Shannon entropy (bits) onto [0,1].
	EntropyNormalizer float64
}

// NewDGADetector returns a detector with the standard 5.0-bit entropy
// normaliser.
func NewDGADetector() *DGADetector {
	return &DGADetector{EntropyNormalizer: 5.0}
}

// Score computes the weighted DGA likelihood in [0,1] for domain's
// registrable label (the part before the first dot, lowercased).
func (d *DGADetector) Score(domain string) Verdict {
	label := firstLabel(domain)
	if label == "" {
		return Verdict{}
	}

	entropy := shannonEntropy(label)
	normEntropy := entropy / d.EntropyNormalizer
	if normEntropy > 1 {
		normEntropy = 1
	}

	ngram := ngramPlausibility(label)
	consonant := consonantRatioScore(label)

	score := 0.5*normEntropy + 0.3*(1-ngram) + 0.2*consonant
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return Verdict{Flagged: score >= 0.7, Confidence: score}
}

func firstLabel(domain string) string {
	domain = strings.ToLower(domain)
	if i := strings.IndexByte(domain, '.'); i >= 0 {
		return domain[:i]
	}
	return domain
}

// shannonEntropy computes the Shannon entropy, in bits, of s's byte
// distribution.
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}
	n := float64(len(s))
	var h float64
	for _, c := range counts {
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

// commonBigrams is a small set of English bigrams used as a plausibility
// signal; real pronounceable words are dominated by these pairs, random
// strings are not.
var commonBigrams = map[string]bool{
	"th": true, "he": true, "in": true, "er": true, "an": true,
	"re": true, "on": true, "at": true, "en": true, "nd": true,
	"ti": true, "es": true, "or": true, "te": true, "of": true,
	"ed": true, "is": true, "it": true, "al": true, "ar": true,
	"st": true, "to": true, "nt": true, "ng": true, "se": true,
	"ha": true, "as": true, "ou": true, "io": true, "le": true,
}

// ngramPlausibility returns the fraction of consecutive bigrams in label
// that are common English bigrams; higher means more word-like.
func ngramPlausibility(label string) float64 {
	letters := onlyLetters(label)
	if len(letters) < 2 {
		return 1 // too short to judge; assume plausible
	}
	hits := 0
	total := len(letters) - 1
	for i := 0; i < total; i++ {
		if commonBigrams[letters[i:i+2]] {
			hits++
		}
	}
	return float64(hits) / float64(total)
}

const vowels = "aeiou"

// consonantRatioScore returns a score in [0,1] that rises as the run of
// consecutive consonants in label grows longer; DGA output frequently
// produces long consonant runs that pronounceable words avoid.
func consonantRatioScore(label string) float64 {
	letters := onlyLetters(label)
	if len(letters) == 0 {
		return 0
	}
	longestRun, run := 0, 0
	for _, c := range letters {
		if strings.IndexByte(vowels, byte(c)) < 0 {
			run++
			if run > longestRun {
				longestRun = run
			}
		} else {
			run = 0
		}
	}
	score := float64(longestRun) / 5.0
	if score > 1 {
		score = 1
	}
	return score
}

func onlyLetters(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// BeaconingDetector scores inter-request-interval regularity using the
// coefficient of variation (CV = stddev/mean): a CV below 0.4 indicates
// suspiciously regular, machine-paced requests.
type BeaconingDetector struct {
	CVThreshold float64
}

// NewBeaconingDetector returns a detector using the standard 0.4 CV
// threshold.
func NewBeaconingDetector() *BeaconingDetector {
	return &BeaconingDetector{CVThreshold: 0.4}
}

// Score computes the beaconing likelihood from a sequence of request
// timestamps (already sorted ascending).
func (d *BeaconingDetector) Score(times []time.Time) Verdict {
	if len(times) < 3 {
		return Verdict{}
	}
	intervals := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		intervals = append(intervals, times[i].Sub(times[i-1]).Seconds())
	}

	mean := meanOf(intervals)
	if mean <= 0 {
		return Verdict{}
	}
	stddev := stddevOf(intervals, mean)
	cv := stddev / mean

	if cv >= d.CVThreshold {
		return Verdict{}
	}
	score := 1 - (cv / d.CVThreshold)
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return Verdict{Flagged: score >= 0.7, Confidence: score}
}

func meanOf(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddevOf(xs []float64, mean float64) float64 {
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

// ExfiltrationDetector scores the upload-to-total-bytes ratio.
type ExfiltrationDetector struct {
	RatioThreshold float64
}

// NewExfiltrationDetector returns a detector using the standard 0.7
// upload-ratio threshold.
func NewExfiltrationDetector() *ExfiltrationDetector {
	return &ExfiltrationDetector{RatioThreshold: 0.7}
}

// Score computes the exfiltration likelihood from cumulative bytes sent
// and received for a domain. Any upload ratio above RatioThreshold is
// Flagged, with Confidence rising linearly from 0 at the threshold to 1.
func (d *ExfiltrationDetector) Score(bytesSent, bytesReceived int64) Verdict {
	total := bytesSent + bytesReceived
	if total <= 0 {
		return Verdict{}
	}
	ratio := float64(bytesSent) / float64(total)
	if ratio <= d.RatioThreshold {
		return Verdict{}
	}
	score := (ratio - d.RatioThreshold) / (1 - d.RatioThreshold)
	if score > 1 {
		score = 1
	}
	return Verdict{Flagged: true, Confidence: score}
}

// DNSTunnelDetector scores a domain for DNS-tunnelling characteristics:
// abnormally long, high-entropy subdomain labels and a high label count,
// both typical of protocols encoding payloads into DNS queries.
type DNSTunnelDetector struct {
	MaxPlausibleLabelLength int
}

// NewDNSTunnelDetector returns a detector with a conservative
// label-length ceiling: ordinary hostnames rarely exceed 30 characters per
// label, while tunnelling protocols routinely max out the 63-byte limit.
func NewDNSTunnelDetector() *DNSTunnelDetector {
	return &DNSTunnelDetector{MaxPlausibleLabelLength: 30}
}

// Score inspects domain's label structure for tunnelling indicators.
func (d *DNSTunnelDetector) Score(domain string) Verdict {
	labels := strings.Split(strings.ToLower(domain), ".")
	if len(labels) == 0 {
		return Verdict{}
	}

	longest := 0
	for _, l := range labels {
		if len(l) > longest {
			longest = len(l)
		}
	}

	lengthScore := float64(longest) / float64(d.MaxPlausibleLabelLength)
	if lengthScore > 1 {
		lengthScore = 1
	}

	labelCountScore := float64(len(labels)-3) / 5.0
	if labelCountScore < 0 {
		labelCountScore = 0
	}
	if labelCountScore > 1 {
		labelCountScore = 1
	}

	longestLabel := ""
	for _, l := range labels {
		if len(l) == longest {
			longestLabel = l
			break
		}
	}
	entropyScore := shannonEntropy(longestLabel) / 5.0
	if entropyScore > 1 {
		entropyScore = 1
	}

	score := 0.4*lengthScore + 0.3*labelCountScore + 0.3*entropyScore
	return Verdict{Flagged: score >= 0.7, Confidence: score}
}
