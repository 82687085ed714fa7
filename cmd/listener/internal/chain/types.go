package chain

import (
	"encoding/json"
	"math/big"
)

// ReserveState is the pair of RAY-encoded rates read from the pool for
// one asset.
type ReserveState struct {
	LiquidityRate      *big.Int
	VariableBorrowRate *big.Int
}

type EventKind int

const (
	// EventConnected fires once per successful connect (including
	// reconnects) after the log subscription is confirmed. Consumers
	// re-seed their state on it.
	EventConnected EventKind = iota

	// EventReserveUpdated carries one ReserveDataUpdated log.
	EventReserveUpdated
)

// Event is what the client emits on its bounded event channel.
type Event struct {
	Kind    EventKind
	Address string // asset address, only for EventReserveUpdated
	Reserve ReserveState
}

// connState models the connection lifecycle explicitly.
type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
	stateBackoff
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateBackoff:
		return "backoff"
	default:
		return "disconnected"
	}
}

// JSON-RPC framing.

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Params  *subParams      `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type subParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type logEntry struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

type callParams struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

type rpcResult struct {
	raw json.RawMessage
	err error
}

type rpcCall struct {
	method string
	params []interface{}
	reply  chan rpcResult
}
