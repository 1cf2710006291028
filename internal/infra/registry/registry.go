package registry

import (
	"fmt"

	"settle_go/internal/domain"
	"settle_go/internal/infra"
)

// Registry resolves vaults, venue accounts and settlement parameters from
// configuration. It is immutable after construction.
type Registry struct {
	treasury string

	ledgerAccounts map[string]string             // asset -> venue account
	adapters       map[string]string             // vault -> adapter account
	vaultTypes     map[string]domain.VaultType   // vault -> type
	byType         map[string]string             // type|asset -> vault
	settlement     map[string]domain.SettlementConfig
	profitShareBps map[string]int64
}

// New builds a registry from configuration. Config is validated beforehand;
// duplicates are the only thing left to reject here.
func New(cfg *infra.Config) (*Registry, error) {
	r := &Registry{
		treasury:       cfg.Settlement.TreasuryAccount,
		ledgerAccounts: make(map[string]string),
		adapters:       make(map[string]string),
		vaultTypes:     make(map[string]domain.VaultType),
		byType:         make(map[string]string),
		settlement:     make(map[string]domain.SettlementConfig),
		profitShareBps: make(map[string]int64),
	}
	for _, a := range cfg.Assets {
		if _, dup := r.ledgerAccounts[a.Symbol]; dup {
			return nil, fmt.Errorf("duplicate asset %s", a.Symbol)
		}
		r.ledgerAccounts[a.Symbol] = a.LedgerAccount
	}
	for _, v := range cfg.Vaults {
		if _, dup := r.adapters[v.Name]; dup {
			return nil, fmt.Errorf("duplicate vault %s", v.Name)
		}
		tk := v.Type + "|" + v.Asset
		if _, dup := r.byType[tk]; dup {
			return nil, fmt.Errorf("more than one %s vault for asset %s", v.Type, v.Asset)
		}
		r.adapters[v.Name] = v.AdapterAccount
		r.vaultTypes[v.Name] = domain.VaultType(v.Type)
		r.byType[tk] = v.Name
		r.settlement[v.Name] = domain.SettlementConfig{
			Treasury:     cfg.Settlement.TreasuryAccount,
			Insurance:    v.InsuranceAccount,
			TreasuryBps:  v.TreasuryBps,
			InsuranceBps: v.InsuranceBps,
		}
		r.profitShareBps[v.Name] = v.ProfitShareBps
	}
	return r, nil
}

// Adapter returns the venue account the agent operates for (vault, asset).
func (r *Registry) Adapter(vault, _ string) (string, error) {
	a, ok := r.adapters[vault]
	if !ok {
		return "", fmt.Errorf("unknown vault %s", vault)
	}
	return a, nil
}

// LedgerAdapter returns the venue account backing the mint/redeem ledger.
func (r *Registry) LedgerAdapter(asset string) (string, error) {
	a, ok := r.ledgerAccounts[asset]
	if !ok {
		return "", fmt.Errorf("unknown asset %s", asset)
	}
	return a, nil
}

// VaultByType returns the vault of the given type serving an asset.
func (r *Registry) VaultByType(t domain.VaultType, asset string) (string, error) {
	v, ok := r.byType[string(t)+"|"+asset]
	if !ok {
		return "", fmt.Errorf("no %s vault for asset %s", t, asset)
	}
	return v, nil
}

// VaultType returns the type of a vault.
func (r *Registry) VaultType(vault string) (domain.VaultType, error) {
	t, ok := r.vaultTypes[vault]
	if !ok {
		return "", fmt.Errorf("unknown vault %s", vault)
	}
	return t, nil
}

// SettlementConfig returns the profit routing configuration for a vault.
func (r *Registry) SettlementConfig(vault string) (domain.SettlementConfig, error) {
	c, ok := r.settlement[vault]
	if !ok {
		return domain.SettlementConfig{}, fmt.Errorf("unknown vault %s", vault)
	}
	return c, nil
}

// ProfitShareBps returns the configured vault adapter profit cut.
func (r *Registry) ProfitShareBps(vault string) (int64, error) {
	bps, ok := r.profitShareBps[vault]
	if !ok {
		return 0, fmt.Errorf("unknown vault %s", vault)
	}
	return bps, nil
}

// Treasury returns the protocol treasury venue account.
func (r *Registry) Treasury() (string, error) {
	return r.treasury, nil
}
