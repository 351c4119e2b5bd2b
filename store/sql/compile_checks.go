package sqlstore

import "github.com/goliatone/go-ingress/core"

var (
	_ core.ThreadStore   = (*ThreadStore)(nil)
	_ core.ThreadStore   = (*CachedThreadStore)(nil)
	_ core.LegacyStore   = (*LegacyStore)(nil)
	_ core.MessageStore  = (*MessageStore)(nil)
	_ core.BalanceStore  = (*BalanceStore)(nil)
	_ core.StoreProvider = (*RepositoryFactory)(nil)
)
