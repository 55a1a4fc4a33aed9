package account

import (
	"sort"
	"sync"
	"time"
)

// State is the persisted lifecycle of an account's strategy. In-flight
// workflows are modeled by the per-account lock, not stored here.
type State int

const (
	Flat State = 0
	Open State = 1
)

// CryptoAsset is one margin-account spot holding.
type CryptoAsset struct {
	Quantity  float64
	Price     float64
	ValueUSD  float64
	UpdatedAt time.Time
}

// Contract is one open perpetual position. Quantity is signed;
// negative means short.
type Contract struct {
	Quantity  float64
	Price     float64
	UpdatedAt time.Time
}

// Snapshot mirrors one exchange account in memory. Holdings are
// replaced wholesale on every reconciliation, never merged, so
// fully-closed symbols disappear on their own.
type Snapshot struct {
	UID       int64
	APIKey    string
	APISecret string

	mu             sync.RWMutex
	usdtBalance    float64
	cryptoAssets   map[string]CryptoAsset
	contracts      map[string]Contract
	assetValuation float64
	localValuation float64
	marginRatio    float64
	status         string
	state          State
	dualSide       bool
}

func NewSnapshot(uid int64, apiKey, apiSecret string) *Snapshot {
	return &Snapshot{
		UID:          uid,
		APIKey:       apiKey,
		APISecret:    apiSecret,
		cryptoAssets: make(map[string]CryptoAsset),
		contracts:    make(map[string]Contract),
	}
}

// ReplaceHoldings swaps in the full asset and contract collections
// from a reconciliation pass.
func (s *Snapshot) ReplaceHoldings(usdtBalance float64, assets map[string]CryptoAsset, contracts map[string]Contract, localValuation float64) {
	if assets == nil {
		assets = make(map[string]CryptoAsset)
	}
	if contracts == nil {
		contracts = make(map[string]Contract)
	}
	s.mu.Lock()
	s.usdtBalance = usdtBalance
	s.cryptoAssets = assets
	s.contracts = contracts
	s.localValuation = localValuation
	s.mu.Unlock()
}

// SetEquity records the exchange-reported account equity. The locally
// summed valuation deliberately never feeds assetValuation: it ignores
// borrowed balances and accrued interest, so exchange truth wins.
func (s *Snapshot) SetEquity(valuation, marginRatio float64, status string) {
	s.mu.Lock()
	s.assetValuation = valuation
	s.marginRatio = marginRatio
	s.status = status
	s.mu.Unlock()
}

func (s *Snapshot) SetState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Snapshot) SetDualSide(dual bool) {
	s.mu.Lock()
	s.dualSide = dual
	s.mu.Unlock()
}

func (s *Snapshot) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Snapshot) DualSide() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dualSide
}

func (s *Snapshot) USDTBalance() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usdtBalance
}

func (s *Snapshot) AssetValuation() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assetValuation
}

func (s *Snapshot) MarginRatio() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.marginRatio
}

// CryptoQty returns the spot holding of one asset, zero when absent.
func (s *Snapshot) CryptoQty(asset string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cryptoAssets[asset].Quantity
}

// ContractQty returns the signed perpetual position of one asset.
func (s *Snapshot) ContractQty(asset string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contracts[asset].Quantity
}

func (s *Snapshot) ContractSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	symbols := make([]string, 0, len(s.contracts))
	for symbol := range s.contracts {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Summary is the account overview served to operators.
type Summary struct {
	UID            int64                  `json:"uid"`
	AssetValuation float64                `json:"asset_valuation"`
	LocalValuation float64                `json:"local_valuation"`
	USDTBalance    float64                `json:"usdt_balance"`
	MarginRatio    float64                `json:"margin_ratio"`
	Status         string                 `json:"status"`
	State          State                  `json:"state"`
	DualSide       bool                   `json:"dual_side_position"`
	CryptoAssets   map[string]CryptoAsset `json:"crypto_assets"`
	Contracts      map[string]Contract    `json:"contracts"`
}

func (s *Snapshot) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	assets := make(map[string]CryptoAsset, len(s.cryptoAssets))
	for name, asset := range s.cryptoAssets {
		assets[name] = asset
	}
	contracts := make(map[string]Contract, len(s.contracts))
	for name, contract := range s.contracts {
		contracts[name] = contract
	}
	return Summary{
		UID:            s.UID,
		AssetValuation: s.assetValuation,
		LocalValuation: s.localValuation,
		USDTBalance:    s.usdtBalance,
		MarginRatio:    s.marginRatio,
		Status:         s.status,
		State:          s.state,
		DualSide:       s.dualSide,
		CryptoAssets:   assets,
		Contracts:      contracts,
	}
}

// DistributionEntry reports one asset's share of the local valuation
// sum and how well its short leg covers the spot leg.
type DistributionEntry struct {
	Name          string  `json:"name"`
	Percent       float64 `json:"percent"`
	ValueUSD      float64 `json:"value_usd"`
	Quantity      float64 `json:"quantity"`
	HedgeQuantity float64 `json:"hedge_quantity"`
	HedgeValueUSD float64 `json:"hedge_value_usd"`
	Price         float64 `json:"price"`
	TotalUSD      float64 `json:"total_usd"`
}

// Distribution returns per-asset percentage shares sorted descending.
// This is the one consumer of the local valuation sum.
func (s *Snapshot) Distribution() []DistributionEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0.0
	for _, asset := range s.cryptoAssets {
		total += asset.ValueUSD
	}
	entries := make([]DistributionEntry, 0, len(s.cryptoAssets))
	for name, asset := range s.cryptoAssets {
		hedgeQty := asset.Quantity
		price := asset.Price
		if contract, ok := s.contracts[name]; ok {
			hedgeQty += contract.Quantity
			price = contract.Price
		}
		percent := 0.0
		if total > 0 {
			percent = asset.ValueUSD / total * 100
		}
		entries = append(entries, DistributionEntry{
			Name:          name,
			Percent:       percent,
			ValueUSD:      asset.ValueUSD,
			Quantity:      asset.Quantity,
			HedgeQuantity: hedgeQty,
			HedgeValueUSD: hedgeQty * price,
			Price:         price,
			TotalUSD:      total,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Percent > entries[j].Percent
	})
	return entries
}
