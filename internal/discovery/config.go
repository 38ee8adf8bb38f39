package discovery

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Provider names used by the built-in adapters and the default chain.
const (
	ProviderIdentity   = "identity"
	ProviderNameSearch = "namesearch"
	ProviderPhoneA     = "phone_a"
	ProviderPhoneB     = "phone_b"
)

// ChainConfig is the YAML description of the tier order.
type ChainConfig struct {
	Threshold float64      `yaml:"threshold"`
	Tiers     []TierConfig `yaml:"tiers"`
}

// TierConfig configures one tier.
type TierConfig struct {
	Provider      string     `yaml:"provider"`
	Verify        VerifyMode `yaml:"verify"`
	MinNameLength int        `yaml:"min_name_length"`
	TimeoutSecs   int        `yaml:"timeout_secs"`
}

// DefaultChainConfig is the built-in order: phone identity lookup, name
// search, then the two secondary phone services.
func DefaultChainConfig(minNameLength int) *ChainConfig {
	return &ChainConfig{
		Tiers: []TierConfig{
			{Provider: ProviderIdentity, Verify: VerifyAmbiguous},
			{Provider: ProviderNameSearch, Verify: VerifyAlways, MinNameLength: minNameLength},
			{Provider: ProviderPhoneA, Verify: VerifyNever},
			{Provider: ProviderPhoneB, Verify: VerifyNever},
		},
	}
}

// LoadChainConfig reads a chain file. The YAML has a top-level "chain" key.
func LoadChainConfig(path string) (*ChainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: read chain config %s", path)
	}

	var wrapper struct {
		Chain ChainConfig `yaml:"chain"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "discovery: parse chain config")
	}

	cfg := &wrapper.Chain
	if len(cfg.Tiers) == 0 {
		return nil, eris.New("discovery: chain config has no tiers")
	}
	for i := range cfg.Tiers {
		if cfg.Tiers[i].Verify == "" {
			cfg.Tiers[i].Verify = VerifyNever
		}
	}
	return cfg, nil
}

// Build resolves tier names against reg. Unknown providers, duplicate tiers
// and unknown verify modes are errors.
func (cfg *ChainConfig) Build(reg *Registry) ([]Tier, error) {
	tiers := make([]Tier, 0, len(cfg.Tiers))
	seen := make(map[string]bool, len(cfg.Tiers))
	for _, tc := range cfg.Tiers {
		if seen[tc.Provider] {
			return nil, eris.Errorf("discovery: provider %q listed twice", tc.Provider)
		}
		seen[tc.Provider] = true

		p := reg.Get(tc.Provider)
		if p == nil {
			return nil, eris.Errorf("discovery: unknown provider %q", tc.Provider)
		}
		switch tc.Verify {
		case VerifyNever, VerifyAlways, VerifyAmbiguous:
		default:
			return nil, eris.Errorf("discovery: provider %q has unknown verify mode %q", tc.Provider, tc.Verify)
		}
		tiers = append(tiers, Tier{
			Provider:      p,
			Verify:        tc.Verify,
			MinNameLength: tc.MinNameLength,
			Timeout:       time.Duration(tc.TimeoutSecs) * time.Second,
		})
	}
	return tiers, nil
}
