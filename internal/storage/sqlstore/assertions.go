package sqlstore

import (
	authstorage "github.com/louisbranch/parley/internal/services/auth/storage"
	chatstorage "github.com/louisbranch/parley/internal/services/chat/storage"
)

var _ authstorage.UserStore = (*Store)(nil)
var _ authstorage.PurposeTokenStore = (*Store)(nil)
var _ authstorage.OutboxStore = (*Store)(nil)
var _ chatstorage.Store = (*Store)(nil)
