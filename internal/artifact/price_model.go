package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"pricingd/pkg/types"
)

const (
	quoteFeatureCount = 6
	midFeatureCount   = 2
)

// PriceModel is a linear scoring model over per-section market features.
// The output for each section is tanh(w . features) * MaxAdjustment, so
// adjustments are always inside [-MaxAdjustment, +MaxAdjustment].
type PriceModel struct {
	QuoteCoeffs   []float64 `json:"quote_coeffs"`
	MidCoeffs     []float64 `json:"mid_coeffs"`
	MaxAdjustment float64   `json:"max_adjustment"`
}

// NewPriceModel validates coefficient shapes and returns a usable model.
func NewPriceModel(quoteCoeffs, midCoeffs []float64, maxAdjustment float64) (*PriceModel, error) {
	m := &PriceModel{QuoteCoeffs: quoteCoeffs, MidCoeffs: midCoeffs, MaxAdjustment: maxAdjustment}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PriceModel) validate() error {
	if len(m.QuoteCoeffs) != quoteFeatureCount {
		return fmt.Errorf("quote_coeffs must have %d entries, got %d", quoteFeatureCount, len(m.QuoteCoeffs))
	}
	if len(m.MidCoeffs) != midFeatureCount {
		return fmt.Errorf("mid_coeffs must have %d entries, got %d", midFeatureCount, len(m.MidCoeffs))
	}
	if m.MaxAdjustment <= 0 {
		return fmt.Errorf("max_adjustment must be positive, got %v", m.MaxAdjustment)
	}
	return nil
}

// Infer implements Artifact. The model itself is immutable after load, so
// concurrent calls are safe.
func (m *PriceModel) Infer(state types.MarketState) (map[string]float64, error) {
	out := make(map[string]float64, len(state))
	for name, sec := range state {
		feats, err := sectionFeatures(name, sec)
		if err != nil {
			return nil, err
		}
		coeffs := m.QuoteCoeffs
		if sec.Kind == types.SectionMid {
			coeffs = m.MidCoeffs
		}
		var z float64
		for i, f := range feats {
			z += coeffs[i] * f
		}
		out[name] = math.Tanh(z) * m.MaxAdjustment
	}
	return out, nil
}

// Hash implements Artifact. json.Marshal is deterministic for a fixed struct,
// so the digest identifies the model content.
func (m *PriceModel) Hash() string {
	b, _ := json.Marshal(m)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Save implements Artifact.
func (m *PriceModel) Save(path string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// FileLoader loads PriceModel artifacts from their JSON representation.
type FileLoader struct{}

// Load implements Loader.
func (FileLoader) Load(path string) (Artifact, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var m PriceModel
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid artifact %s: %w", path, err)
	}
	return &m, nil
}
