package retrieval

import (
	"fmt"

	"github.com/glaciergh0st/HuntLens/internal/domain/corpus"
)

// Mode selects how sub-artifacts take part in a query.
type Mode string

const (
	// ModeCombined appends sub-artifact terms to one query.
	ModeCombined Mode = "combined"
	// ModeFanout runs one query per (sub-)artifact and fuses all lists.
	ModeFanout Mode = "fanout"
)

type Config struct {
	// Candidates is m, the depth of each ranked list before fusion.
	Candidates      int
	RRFConstant     float64
	LexicalWeight   float64
	SemanticWeight  float64
	TierMultipliers map[corpus.TrustTier]float64
	Mode            Mode
	SnippetLength   int
}

func DefaultConfig() Config {
	return Config{
		Candidates:     50,
		RRFConstant:    60,
		LexicalWeight:  1.0,
		SemanticWeight: 1.0,
		TierMultipliers: map[corpus.TrustTier]float64{
			corpus.TierCanonical: 1.0,
			corpus.TierVendor:    0.85,
			corpus.TierReport:    0.75,
			corpus.TierCase:      0.65,
		},
		Mode:          ModeCombined,
		SnippetLength: 280,
	}
}

// Validate fills zero values from DefaultConfig and rejects nonsense.
func (c Config) Validate() (Config, error) {
	def := DefaultConfig()
	if c.Candidates <= 0 {
		c.Candidates = def.Candidates
	}
	if c.RRFConstant <= 0 {
		c.RRFConstant = def.RRFConstant
	}
	if c.LexicalWeight < 0 || c.SemanticWeight < 0 {
		return c, fmt.Errorf("retrieval weights must be non-negative")
	}
	if c.LexicalWeight == 0 && c.SemanticWeight == 0 {
		c.LexicalWeight, c.SemanticWeight = def.LexicalWeight, def.SemanticWeight
	}
	if len(c.TierMultipliers) == 0 {
		c.TierMultipliers = def.TierMultipliers
	}
	for tier, m := range c.TierMultipliers {
		if m < 0 || m > 1 {
			return c, fmt.Errorf("tier %d multiplier %.2f outside [0,1]", tier, m)
		}
	}
	switch c.Mode {
	case "":
		c.Mode = def.Mode
	case ModeCombined, ModeFanout:
	default:
		return c, fmt.Errorf("unknown retrieval mode %q", c.Mode)
	}
	if c.SnippetLength <= 0 {
		c.SnippetLength = def.SnippetLength
	}
	return c, nil
}

func (c Config) multiplier(t corpus.TrustTier) float64 {
	if m, ok := c.TierMultipliers[t]; ok {
		return m
	}
	return c.TierMultipliers[corpus.TierCase]
}
