// Package artifact defines the opaque pricing-artifact contract consumed by
// the registry and the serving engine, plus the JSON-backed linear model that
// implements it. Callers outside this package treat artifacts as black boxes
// with a load/infer/save surface.
package artifact

import (
	"fmt"
	"math"

	"pricingd/pkg/types"
)

// Artifact is a loaded pricing model. Implementations must be safe for
// concurrent Infer calls; they are shared across prediction readers.
type Artifact interface {
	// Infer produces one bounded price adjustment per input section,
	// keyed by the same section identifiers.
	Infer(state types.MarketState) (map[string]float64, error)
	// Hash returns the content digest of the artifact.
	Hash() string
	// Save writes the artifact to path so Load can round-trip it.
	Save(path string) error
}

// Loader resolves a stored artifact file into a usable Artifact.
type Loader interface {
	Load(path string) (Artifact, error)
}

// sectionFeatures extracts the numeric features for one section according to
// its kind. Quote sections yield six features, mid sections two.
func sectionFeatures(name string, sec types.Section) ([]float64, error) {
	switch sec.Kind {
	case types.SectionQuote:
		if len(sec.Bid) == 0 || len(sec.Bid) != len(sec.Ask) {
			return nil, fmt.Errorf("section %q: quote requires equal non-empty bid/ask", name)
		}
		spread := make([]float64, len(sec.Bid))
		mid := make([]float64, len(sec.Bid))
		for i := range sec.Bid {
			spread[i] = sec.Ask[i] - sec.Bid[i]
			mid[i] = (sec.Ask[i] + sec.Bid[i]) / 2
		}
		return []float64{
			mean(sec.Bid), mean(sec.Ask), mean(spread), mean(mid),
			stddev(sec.Bid), stddev(sec.Ask),
		}, nil
	case types.SectionMid:
		if len(sec.Mid) == 0 {
			return nil, fmt.Errorf("section %q: mid requires a non-empty curve", name)
		}
		return []float64{mean(sec.Mid), stddev(sec.Mid)}, nil
	default:
		return nil, fmt.Errorf("section %q: unknown kind %q", name, sec.Kind)
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var s float64
	for _, x := range xs {
		d := x - m
		s += d * d
	}
	return math.Sqrt(s / float64(len(xs)))
}
