package escrow

import "github.com/xraph/escrow/id"

// ID is the primary identifier type for all escrow entities.
type ID = id.ID
