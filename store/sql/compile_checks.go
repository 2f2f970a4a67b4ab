package sqlstore

import "github.com/goliatone/go-webhook-gateway/core"

var (
	_ core.Ledger  = (*DeliveryLedger)(nil)
	_ core.Sweeper = (*DeliveryLedger)(nil)
	_ core.Ledger  = (*CachedLedger)(nil)
	_ core.Sweeper = (*CachedLedger)(nil)
)
