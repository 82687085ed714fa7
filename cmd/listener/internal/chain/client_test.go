package chain

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/defistream/aave-apy-monitor/pkg/models"
)

func TestPadAddress(t *testing.T) {
	got := padAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	if len(got) != 64 {
		t.Fatalf("Expected 64 hex chars, got %d", len(got))
	}
	if !strings.HasPrefix(got, strings.Repeat("0", 24)) {
		t.Errorf("Address should be left-padded: %s", got)
	}
	if !strings.HasSuffix(got, "a0b86991c6218b36c1d19d4a2e9eb0ce3606eb48") {
		t.Errorf("Address should be lower-cased: %s", got)
	}
}

func TestDataWord(t *testing.T) {
	data := "0x" +
		strings.Repeat("0", 63) + "1" +
		strings.Repeat("0", 63) + "2"

	w0, err := dataWord(data, 0)
	if err != nil || w0.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("Expected word 0 == 1, got %v (err=%v)", w0, err)
	}
	w1, err := dataWord(data, 1)
	if err != nil || w1.Cmp(big.NewInt(2)) != 0 {
		t.Errorf("Expected word 1 == 2, got %v (err=%v)", w1, err)
	}
	if _, err := dataWord(data, 2); err == nil {
		t.Error("Expected error for out-of-range word")
	}
}

func TestDecodeReserveData(t *testing.T) {
	// 15-word tuple with liquidityRate=5 at word 2 and
	// variableBorrowRate=7 at word 4.
	words := make([]string, 15)
	for i := range words {
		words[i] = strings.Repeat("0", 64)
	}
	words[2] = strings.Repeat("0", 63) + "5"
	words[4] = strings.Repeat("0", 63) + "7"
	raw, _ := json.Marshal("0x" + strings.Join(words, ""))

	state, err := decodeReserveData(raw)
	if err != nil {
		t.Fatalf("decodeReserveData failed: %v", err)
	}
	if state.LiquidityRate.Cmp(big.NewInt(5)) != 0 {
		t.Errorf("Expected liquidity rate 5, got %v", state.LiquidityRate)
	}
	if state.VariableBorrowRate.Cmp(big.NewInt(7)) != 0 {
		t.Errorf("Expected variable borrow rate 7, got %v", state.VariableBorrowRate)
	}
}

// fakeNode upgrades one connection, confirms eth_subscribe, answers
// eth_call with the given tuple, and pushes one log notification.
func fakeNode(t *testing.T, callResult string, log logEntry) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var req rpcRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			switch req.Method {
			case "eth_subscribe":
				conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": "0xsub1"})
				payload, _ := json.Marshal(log)
				conn.WriteJSON(map[string]interface{}{
					"jsonrpc": "2.0",
					"method":  "eth_subscription",
					"params":  map[string]interface{}{"subscription": "0xsub1", "result": json.RawMessage(payload)},
				})
			case "eth_call":
				conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": callResult})
			}
		}
	}))
}

func TestClient_SubscribeQueryAndEvents(t *testing.T) {
	words := make([]string, 15)
	for i := range words {
		words[i] = strings.Repeat("0", 64)
	}
	words[2] = strings.Repeat("0", 63) + "a"
	words[4] = strings.Repeat("0", 63) + "b"
	callResult := "0x" + strings.Join(words, "")

	usdc := models.Instruments[0]
	log := logEntry{
		Address: models.AavePoolAddress,
		Topics: []string{
			reserveDataUpdatedTopic,
			"0x" + strings.Repeat("0", 24) + strings.ToLower(strings.TrimPrefix(usdc.Address, "0x")),
		},
		Data: "0x" +
			strings.Repeat("0", 63) + "1" + // liquidityRate
			strings.Repeat("0", 64) + // stableBorrowRate
			strings.Repeat("0", 63) + "3" + // variableBorrowRate
			strings.Repeat("0", 64) +
			strings.Repeat("0", 64),
	}

	srv := fakeNode(t, callResult, log)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := NewClient(wsURL, 10*time.Millisecond, 1, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go client.Run(ctx)

	// First event is the connection marker.
	ev := <-client.Events()
	if ev.Kind != EventConnected {
		t.Fatalf("Expected connected event first, got %+v", ev)
	}

	// Then the pushed log, resolved to the reserve address.
	ev = <-client.Events()
	if ev.Kind != EventReserveUpdated {
		t.Fatalf("Expected reserve update, got %+v", ev)
	}
	if !strings.EqualFold(ev.Address, usdc.Address) {
		t.Errorf("Expected address %s, got %s", usdc.Address, ev.Address)
	}
	if ev.Reserve.LiquidityRate.Cmp(big.NewInt(1)) != 0 || ev.Reserve.VariableBorrowRate.Cmp(big.NewInt(3)) != 0 {
		t.Errorf("Unexpected rates: %+v", ev.Reserve)
	}

	// Point query over the same socket.
	state, err := client.ReserveState(ctx, usdc.Address)
	if err != nil {
		t.Fatalf("ReserveState failed: %v", err)
	}
	if state.LiquidityRate.Cmp(big.NewInt(10)) != 0 || state.VariableBorrowRate.Cmp(big.NewInt(11)) != 0 {
		t.Errorf("Unexpected call result: %+v", state)
	}
}

func TestClient_ReconnectBudgetExhausted(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	client := NewClient("ws://127.0.0.1:1", time.Millisecond, 2, zap.New(core))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Run(ctx); err != ErrReconnectExhausted {
		t.Errorf("Expected ErrReconnectExhausted, got %v", err)
	}

	// Every dial and backoff leaves a state-transition trail.
	var trail []string
	for _, entry := range logs.FilterMessage("Connection state changed").All() {
		fields := entry.ContextMap()
		trail = append(trail, fields["from"].(string)+">"+fields["to"].(string))
	}
	want := []string{
		"disconnected>connecting", "connecting>backoff",
		"backoff>connecting", "connecting>backoff",
		"backoff>connecting",
	}
	if len(trail) != len(want) {
		t.Fatalf("Expected %d transitions, got %v", len(want), trail)
	}
	for i := range want {
		if trail[i] != want[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, want[i], trail[i])
		}
	}
}
