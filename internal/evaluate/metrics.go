// Package evaluate scores resolved locations against gold annotations.
package evaluate

import (
	"math"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geonext/internal/model"
)

// UnresolvedPolicy decides how records without a prediction enter the
// distance metrics.
type UnresolvedPolicy string

const (
	// PolicyExclude drops unresolved records from distance metrics.
	PolicyExclude UnresolvedPolicy = "exclude"
	// PolicyPenalize counts unresolved records at the penalty distance.
	PolicyPenalize UnresolvedPolicy = "penalize"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (UnresolvedPolicy, error) {
	switch p := UnresolvedPolicy(s); p {
	case PolicyExclude, PolicyPenalize:
		return p, nil
	case "":
		return PolicyPenalize, nil
	default:
		return "", eris.Errorf("evaluate: unknown unresolved policy %q", s)
	}
}

// MaxErrorKM is half the Earth's circumference, the largest possible error.
const MaxErrorKM = 20039.0

// Options control aggregation.
type Options struct {
	Policy     UnresolvedPolicy
	PenaltyKM  float64 // defaults to MaxErrorKM
	MaxErrorKM float64 // upper bound of the AUC curve
	AUCBins    int
}

// DefaultOptions penalize unresolved mentions at the maximum error.
func DefaultOptions() Options {
	return Options{Policy: PolicyPenalize, PenaltyKM: MaxErrorKM, MaxErrorKM: MaxErrorKM, AUCBins: 100}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Policy == "" {
		o.Policy = def.Policy
	}
	if o.MaxErrorKM <= 0 {
		o.MaxErrorKM = def.MaxErrorKM
	}
	if o.PenaltyKM <= 0 {
		o.PenaltyKM = o.MaxErrorKM
	}
	if o.AUCBins <= 0 {
		o.AUCBins = def.AUCBins
	}
	return o
}

// Metrics are aggregate geolocation scores.
type Metrics struct {
	Records        int              `json:"records"`
	Resolved       int              `json:"resolved"`
	Coverage       float64          `json:"coverage"`
	AccuracyAt161  float64          `json:"accuracy_at_161km"`
	AccuracyAt500m float64          `json:"accuracy_at_500m"`
	MeanKM         float64          `json:"mean_error_km"`
	MedianKM       float64          `json:"median_error_km"`
	AUC            float64          `json:"auc"`
	Policy         UnresolvedPolicy `json:"unresolved_policy"`
	PenaltyKM      float64          `json:"penalty_km,omitempty"`
	Extraction     *Extraction      `json:"extraction,omitempty"`
}

// Evaluate pairs a prediction with its gold coordinate. loc may be nil when
// the mention was never extracted.
func Evaluate(docID string, loc *model.ResolvedLocation, gold model.GoldMention) model.EvaluationRecord {
	rec := model.EvaluationRecord{DocumentID: docID, MentionIndex: -1, Surface: gold.Surface}
	if gold.Coordinate != nil {
		rec.Gold = *gold.Coordinate
	}
	if loc == nil {
		return rec
	}
	rec.MentionIndex = loc.MentionIndex
	if loc.Status == model.StatusResolved && loc.Coordinate != nil {
		c := *loc.Coordinate
		rec.Predicted = &c
		rec.Resolved = true
		rec.DistanceKM = c.DistanceKM(rec.Gold)
	}
	return rec
}

// distances returns the error of every record that counts under opts.
func distances(records []model.EvaluationRecord, opts Options) []float64 {
	out := make([]float64, 0, len(records))
	for _, r := range records {
		switch {
		case r.Resolved:
			out = append(out, r.DistanceKM)
		case opts.Policy == PolicyPenalize:
			out = append(out, opts.PenaltyKM)
		}
	}
	return out
}

// AccuracyAt is the fraction of counted records with error below km.
func AccuracyAt(records []model.EvaluationRecord, km float64, opts Options) float64 {
	ds := distances(records, opts.withDefaults())
	if len(ds) == 0 {
		return 0
	}
	n := 0
	for _, d := range ds {
		if d < km {
			n++
		}
	}
	return float64(n) / float64(len(ds))
}

// AUC is the area under the survival curve of log-scaled errors: each error
// is mapped to ln(1+d)/ln(1+max) in [0,1], and the fraction of errors above
// the midpoint of each of bins equal bins is averaged. 0 is perfect, 1 is
// every error at max.
func AUC(ds []float64, maxKM float64, bins int) float64 {
	if len(ds) == 0 || bins <= 0 {
		return 0
	}
	denom := math.Log1p(maxKM)
	norm := make([]float64, len(ds))
	for i, d := range ds {
		norm[i] = math.Min(1, math.Log1p(math.Max(0, d))/denom)
	}
	slices.Sort(norm)

	area := 0.0
	for b := 0; b < bins; b++ {
		x := (float64(b) + 0.5) / float64(bins)
		above := len(norm) - upperBound(norm, x)
		area += float64(above) / float64(len(norm))
	}
	return area / float64(bins)
}

// upperBound returns the number of sorted values <= x.
func upperBound(sorted []float64, x float64) int {
	i, found := slices.BinarySearch(sorted, x)
	for found && i < len(sorted) && sorted[i] == x {
		i++
	}
	return i
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Aggregate computes dataset-level metrics.
func Aggregate(records []model.EvaluationRecord, opts Options) Metrics {
	opts = opts.withDefaults()
	m := Metrics{Records: len(records), Policy: opts.Policy}
	if opts.Policy == PolicyPenalize {
		m.PenaltyKM = opts.PenaltyKM
	}
	for _, r := range records {
		if r.Resolved {
			m.Resolved++
		}
	}
	if len(records) > 0 {
		m.Coverage = float64(m.Resolved) / float64(len(records))
	}

	ds := distances(records, opts)
	if len(ds) == 0 {
		return m
	}
	slices.Sort(ds)
	sum := 0.0
	for _, d := range ds {
		sum += d
	}
	m.MeanKM = sum / float64(len(ds))
	m.MedianKM = median(ds)
	m.AccuracyAt161 = AccuracyAt(records, 161, opts)
	m.AccuracyAt500m = AccuracyAt(records, 0.5, opts)
	m.AUC = AUC(ds, opts.MaxErrorKM, opts.AUCBins)
	return m
}
