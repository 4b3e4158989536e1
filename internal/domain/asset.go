package domain

// AssetEntry maps a registry symbol to settlement-layer indices.
// Corresponds to asset_entries table in PostgreSQL.
type AssetEntry struct {
	Symbol      string  // PRIMARY KEY, upper-case ticker
	TokenIndex  uint64  // settlement token index, drives the system address
	PriceIndex  uint32  // oracle feed index
	MarketIndex uint32  // spot market used for conversion orders
	Decimals    uint8   // base-unit decimals on the settlement layer
	Native      bool    // execution-layer gas asset
	Pegged      bool    // quote asset valued at exactly 1.0
	UpdatedAt   int64   // Unix timestamp in milliseconds
	UpdatedBy   Address // operator that wrote the entry
}
