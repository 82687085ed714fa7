// Package chain maintains the WebSocket JSON-RPC session with an Ethereum
// node: a log subscription on the Aave pool plus point queries for reserve
// state, behind a reconnecting connection.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/defistream/aave-apy-monitor/pkg/models"
)

const (
	// getReserveDataSelector is the 4-byte selector of
	// getReserveData(address) on the Aave v3 pool.
	getReserveDataSelector = "0x35ea6a75"

	// reserveDataUpdatedTopic is the topic0 of
	// ReserveDataUpdated(address,uint256,uint256,uint256,uint256,uint256).
	reserveDataUpdatedTopic = "0x804c9b842b2748a22bb64b345453a3de7ca54a6ca45ce00d415894979e22897a"

	wordHexLen = 64 // one ABI word in hex characters

	// In getReserveData's return tuple: word 2 is currentLiquidityRate,
	// word 4 is currentVariableBorrowRate.
	liquidityRateWord      = 2
	variableBorrowRateWord = 4
)

// ErrReconnectExhausted is returned by Run when the reconnection budget is
// spent. It is fatal to the process.
var ErrReconnectExhausted = errors.New("chain: reconnect attempts exhausted")

var errConnClosed = errors.New("chain: connection closed")

// Client owns the upstream connection. Events() delivers typed events;
// ReserveState serves point queries over the same socket.
type Client struct {
	url            string
	poolAddress    string
	reconnectDelay time.Duration
	maxReconnects  int
	logger         *zap.Logger

	events chan Event
	calls  chan *rpcCall
}

func NewClient(url string, reconnectDelay time.Duration, maxReconnects int, logger *zap.Logger) *Client {
	return &Client{
		url:            url,
		poolAddress:    models.AavePoolAddress,
		reconnectDelay: reconnectDelay,
		maxReconnects:  maxReconnects,
		logger:         logger,
		events:         make(chan Event, 64),
		calls:          make(chan *rpcCall),
	}
}

// Events is the bounded channel the listener consumes.
func (c *Client) Events() <-chan Event { return c.events }

// Run drives the connection state machine until ctx is cancelled or the
// reconnection budget is exhausted. Backoff is linear: delay times the
// attempt number.
func (c *Client) Run(ctx context.Context) error {
	state := stateDisconnected
	attempt := 0

	transition := func(next connState) {
		c.logger.Info("Connection state changed",
			zap.String("from", state.String()),
			zap.String("to", next.String()))
		state = next
	}

	for {
		transition(stateConnecting)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err == nil {
			transition(stateConnected)
			attempt = 0
			err = c.serve(ctx, conn)
			transition(stateDisconnected)
		}

		if ctx.Err() != nil {
			return nil
		}

		attempt++
		if attempt > c.maxReconnects {
			c.logger.Error("Max reconnection attempts reached", zap.Int("attempts", c.maxReconnects))
			return ErrReconnectExhausted
		}

		transition(stateBackoff)
		delay := c.reconnectDelay * time.Duration(attempt)
		c.logger.Warn("Connection lost, reconnecting",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.maxReconnects),
			zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// serve owns one live connection: it subscribes to pool logs, correlates
// call replies by id, and emits events. Returns when the socket breaks or
// ctx is cancelled.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	inbound := make(chan rpcMessage, 16)
	readErr := make(chan error, 1)
	go func() {
		for {
			var msg rpcMessage
			if err := conn.ReadJSON(&msg); err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- msg:
			case <-done:
				return
			}
		}
	}()

	nextID := uint64(1)
	pending := make(map[uint64]*rpcCall)
	defer func() {
		for _, call := range pending {
			call.reply <- rpcResult{err: errConnClosed}
		}
	}()

	// Subscribe to ReserveDataUpdated logs on the pool before anything else;
	// the connection only counts as up once the node confirms it.
	subID := nextID
	nextID++
	subReq := rpcRequest{
		JSONRPC: "2.0",
		ID:      subID,
		Method:  "eth_subscribe",
		Params: []interface{}{"logs", map[string]interface{}{
			"address": c.poolAddress,
			"topics":  []string{reserveDataUpdatedTopic},
		}},
	}
	if err := conn.WriteJSON(subReq); err != nil {
		return fmt.Errorf("log subscription failed: %w", err)
	}
	subscribed := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return err

		case call := <-c.calls:
			id := nextID
			nextID++
			req := rpcRequest{JSONRPC: "2.0", ID: id, Method: call.method, Params: call.params}
			if err := conn.WriteJSON(req); err != nil {
				call.reply <- rpcResult{err: err}
				return err
			}
			pending[id] = call

		case msg := <-inbound:
			switch {
			case msg.ID != nil && *msg.ID == subID && !subscribed:
				if msg.Error != nil {
					return fmt.Errorf("log subscription rejected: %s", msg.Error.Message)
				}
				subscribed = true
				c.logger.Info("Subscribed to ReserveDataUpdated logs", zap.String("pool", c.poolAddress))
				c.emit(ctx, Event{Kind: EventConnected})

			case msg.ID != nil:
				if call, ok := pending[*msg.ID]; ok {
					delete(pending, *msg.ID)
					if msg.Error != nil {
						call.reply <- rpcResult{err: fmt.Errorf("rpc error %d: %s", msg.Error.Code, msg.Error.Message)}
					} else {
						call.reply <- rpcResult{raw: msg.Result}
					}
				}

			case msg.Method == "eth_subscription" && msg.Params != nil:
				c.handleLog(ctx, msg.Params.Result)
			}
		}
	}
}

func (c *Client) handleLog(ctx context.Context, raw json.RawMessage) {
	var entry logEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Error("Failed to decode log notification", zap.Error(err))
		return
	}
	if len(entry.Topics) < 2 || !strings.EqualFold(entry.Topics[0], reserveDataUpdatedTopic) {
		return
	}

	// topics[1] is the indexed reserve address, left-padded to 32 bytes.
	reserve := "0x" + entry.Topics[1][len(entry.Topics[1])-40:]

	liquidityRate, err := dataWord(entry.Data, 0)
	if err != nil {
		c.logger.Error("Malformed log data", zap.Error(err))
		return
	}
	variableBorrowRate, err := dataWord(entry.Data, 2)
	if err != nil {
		c.logger.Error("Malformed log data", zap.Error(err))
		return
	}

	c.emit(ctx, Event{
		Kind:    EventReserveUpdated,
		Address: reserve,
		Reserve: ReserveState{LiquidityRate: liquidityRate, VariableBorrowRate: variableBorrowRate},
	})
}

func (c *Client) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

// ReserveState queries getReserveData(asset) on the pool. It blocks until
// a connection is available to carry the call or ctx expires.
func (c *Client) ReserveState(ctx context.Context, address string) (ReserveState, error) {
	data := getReserveDataSelector + padAddress(address)
	call := &rpcCall{
		method: "eth_call",
		params: []interface{}{callParams{To: c.poolAddress, Data: data}, "latest"},
		reply:  make(chan rpcResult, 1),
	}

	select {
	case c.calls <- call:
	case <-ctx.Done():
		return ReserveState{}, ctx.Err()
	}

	select {
	case res := <-call.reply:
		if res.err != nil {
			return ReserveState{}, res.err
		}
		return decodeReserveData(res.raw)
	case <-ctx.Done():
		return ReserveState{}, ctx.Err()
	}
}

func decodeReserveData(raw json.RawMessage) (ReserveState, error) {
	var hexData string
	if err := json.Unmarshal(raw, &hexData); err != nil {
		return ReserveState{}, err
	}

	liquidityRate, err := dataWord(hexData, liquidityRateWord)
	if err != nil {
		return ReserveState{}, err
	}
	variableBorrowRate, err := dataWord(hexData, variableBorrowRateWord)
	if err != nil {
		return ReserveState{}, err
	}
	return ReserveState{LiquidityRate: liquidityRate, VariableBorrowRate: variableBorrowRate}, nil
}

// dataWord extracts the i-th 32-byte word of 0x-prefixed ABI data as an
// unsigned integer.
func dataWord(data string, i int) (*big.Int, error) {
	hexData := strings.TrimPrefix(data, "0x")
	start := i * wordHexLen
	end := start + wordHexLen
	if len(hexData) < end {
		return nil, fmt.Errorf("abi data too short: want word %d of %d chars", i, len(hexData))
	}
	word, ok := new(big.Int).SetString(hexData[start:end], 16)
	if !ok {
		return nil, fmt.Errorf("abi word %d is not hex", i)
	}
	return word, nil
}

// padAddress left-pads a 0x address to a 32-byte ABI argument.
func padAddress(address string) string {
	hexAddr := strings.ToLower(strings.TrimPrefix(address, "0x"))
	return strings.Repeat("0", wordHexLen-len(hexAddr)) + hexAddr
}
