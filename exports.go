package escrow

import "github.com/xraph/escrow/types"

// Re-export common types for convenience so users don't have to import types package.

// Money is re-exported from types package.
type Money = types.Money

// Re-export Money constructors
var (
	IDR        = types.IDR
	Rupiah     = types.Rupiah
	ParseMoney = types.ParseMoney
	Zero       = types.Zero
)
