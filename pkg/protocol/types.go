// Package protocol defines the client-facing message vocabulary. Wire
// names match the deployed dashboard's expectations.
package protocol

import "github.com/defistream/aave-apy-monitor/pkg/models"

const (
	TypeCurrent   = "current"
	TypeHistory   = "history"
	TypeSubscribe = "subscribe"
	TypeConnected = "connected"
	TypeUpdate    = "update"
	TypeError     = "error"
)

// Request is any client-to-server message; fields beyond Type are
// populated per message type.
type Request struct {
	Type   string   `json:"type"`
	Token  string   `json:"token,omitempty"`  // history
	Hours  int      `json:"hours,omitempty"`  // history
	Tokens []string `json:"tokens,omitempty"` // subscribe
}

type ConnectedData struct {
	Message          string   `json:"message"`
	SupportedTokens  []string `json:"supportedTokens,omitempty"`
	SubscribedTokens []string `json:"subscribedTokens,omitempty"`
}

type Connected struct {
	Type string        `json:"type"`
	Data ConnectedData `json:"data"`
}

type Current struct {
	Type string                         `json:"type"`
	Data map[string]models.RateSnapshot `json:"data"`
}

type History struct {
	Type  string                `json:"type"`
	Token string                `json:"token"`
	Data  []models.HistoryPoint `json:"data"`
}

type Update struct {
	Type string           `json:"type"`
	Data models.APYUpdate `json:"data"`
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewError(msg string) Error {
	return Error{Type: TypeError, Error: msg}
}
