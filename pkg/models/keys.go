package models

// Redis key scheme shared by the listener and the broadcast server.

const (
	apyKeyPrefix     = "aave:apy:"
	historyKeyPrefix = "aave:history:"

	// UpdatesChannel carries published APYUpdate messages.
	UpdatesChannel = "aave:updates"
)

// APYKey is the current-snapshot hash for a token.
func APYKey(token string) string { return apyKeyPrefix + token }

// HistoryKey is the sorted set holding a token's history, scored by
// unix-millisecond timestamp.
func HistoryKey(token string) string { return historyKeyPrefix + token }
