package ledger

import "fmt"

// AssetID maps collateral asset symbols to numeric IDs for compact keys
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"USDT": 1,
		"USDC": 2,
		"BTC":  3,
		"ETH":  4,
	}
	idToAsset = map[AssetID]string{
		1: "USDT",
		2: "USDC",
		3: "BTC",
		4: "ETH",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AssetName is the infallible variant for log and error text.
func AssetName(id AssetID) string {
	if name, ok := idToAsset[id]; ok {
		return name
	}
	return fmt.Sprintf("asset-%d", id)
}

// System addresses. These hold collateral inside the same tally store as
// user addresses so the supply reconciliation sums them uniformly.
const (
	InsuranceAddress = "system:insurance"
	FeeCacheAddress  = "system:fees"
	VaultAddress     = "system:vault"
	VestingAddress   = "system:vesting"
)
