package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/rikitrader/secure-mint-engine-sub001/native/access"
	"github.com/rikitrader/secure-mint-engine-sub001/native/policy"
)

// Guardrails is the operator-maintained TOML file carrying the compliance
// deny list and the capability grant table. It is kept separate from the main
// YAML config so compliance can rotate it without touching service tuning.
type Guardrails struct {
	Sanctions policy.SanctionsConfig `toml:"sanctions"`
	Grants    []GrantEntry           `toml:"grants"`
	Attestors []string               `toml:"attestors"`
}

// GrantEntry assigns a set of named capabilities to one address.
type GrantEntry struct {
	Address      string   `toml:"address"`
	Capabilities []string `toml:"capabilities"`
}

// LoadGuardrails parses the guardrails file. A missing path yields empty
// guardrails rather than an error so development setups work out of the box.
func LoadGuardrails(path string) (Guardrails, error) {
	rails := Guardrails{}
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return rails, nil
	}
	raw, err := os.ReadFile(trimmed)
	if err != nil {
		return rails, fmt.Errorf("read guardrails: %w", err)
	}
	if err := toml.Unmarshal(raw, &rails); err != nil {
		return rails, fmt.Errorf("decode guardrails: %w", err)
	}
	return rails, nil
}

// BuildGrants converts the grant table into a capability set.
func (g Guardrails) BuildGrants() (*access.Grants, error) {
	grants := access.NewGrants()
	for _, entry := range g.Grants {
		addr := strings.TrimSpace(entry.Address)
		if !ethcommon.IsHexAddress(addr) {
			return nil, fmt.Errorf("guardrails: grant address %q is not a valid address", entry.Address)
		}
		caps, err := access.ParseSet(entry.Capabilities)
		if err != nil {
			return nil, fmt.Errorf("guardrails: grant for %s: %w", addr, err)
		}
		grants.Grant(ethcommon.HexToAddress(addr), caps)
	}
	return grants, nil
}

// AttestorAddresses parses the configured attestor list.
func (g Guardrails) AttestorAddresses() ([]ethcommon.Address, error) {
	out := make([]ethcommon.Address, 0, len(g.Attestors))
	for _, raw := range g.Attestors {
		addr := strings.TrimSpace(raw)
		if !ethcommon.IsHexAddress(addr) {
			return nil, fmt.Errorf("guardrails: attestor %q is not a valid address", raw)
		}
		out = append(out, ethcommon.HexToAddress(addr))
	}
	return out, nil
}
