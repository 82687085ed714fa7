// Command watch is a terminal probe for the broadcast server: it connects
// with linear-backoff reconnection, asks for the current rates and a
// trailing history window, then prints updates as they arrive.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/defistream/aave-apy-monitor/pkg/models"
	"github.com/defistream/aave-apy-monitor/pkg/protocol"
)

const (
	maxReconnectAttempts = 10
	reconnectDelay       = time.Second
)

func main() {
	serverURL := flag.String("url", "ws://localhost:8080/ws", "broadcast server url")
	tokens := flag.String("tokens", "", "comma-separated subscription, empty = all")
	historyHours := flag.Int("history", 24, "history window to request on connect")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	attempt := 0
	for {
		conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
		if err == nil {
			attempt = 0
			logger.Info("Connected to server", zap.String("url", *serverURL))
			err = watch(conn, *tokens, *historyHours, logger)
		}

		attempt++
		if attempt > maxReconnectAttempts {
			logger.Fatal("Max reconnection attempts reached", zap.Error(err))
		}
		delay := reconnectDelay * time.Duration(attempt)
		logger.Warn("Disconnected, reconnecting",
			zap.Error(err), zap.Int("attempt", attempt), zap.Duration("delay", delay))
		time.Sleep(delay)
	}
}

// watch runs one established connection until it drops.
func watch(conn *websocket.Conn, tokens string, historyHours int, logger *zap.Logger) error {
	defer conn.Close()

	if tokens != "" {
		req := protocol.Request{Type: protocol.TypeSubscribe, Tokens: strings.Split(tokens, ",")}
		if err := conn.WriteJSON(req); err != nil {
			return err
		}
	}
	if err := conn.WriteJSON(protocol.Request{Type: protocol.TypeCurrent}); err != nil {
		return err
	}
	if err := conn.WriteJSON(protocol.Request{
		Type: protocol.TypeHistory, Token: models.Instruments[0].Symbol, Hours: historyHours,
	}); err != nil {
		return err
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		handleMessage(raw, logger)
	}
}

func handleMessage(raw []byte, logger *zap.Logger) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		logger.Error("Failed to parse message", zap.Error(err))
		return
	}

	switch envelope.Type {
	case protocol.TypeConnected:
		var msg protocol.Connected
		json.Unmarshal(raw, &msg)
		logger.Info("Server confirmation", zap.String("message", msg.Data.Message))

	case protocol.TypeCurrent:
		var msg protocol.Current
		json.Unmarshal(raw, &msg)
		for token, snap := range msg.Data {
			fmt.Printf("%-7s supply %.5f%%  borrow %.5f%%\n", token, snap.Supply, snap.Borrow)
		}

	case protocol.TypeHistory:
		var msg protocol.History
		json.Unmarshal(raw, &msg)
		logger.Info("History window",
			zap.String("token", msg.Token), zap.Int("points", len(msg.Data)))

	case protocol.TypeUpdate:
		var msg protocol.Update
		json.Unmarshal(raw, &msg)
		u := msg.Data
		fmt.Printf("%s  %-7s supply %.5f%% (%+.5f)  borrow %.5f%% (%+.5f)\n",
			time.UnixMilli(u.Timestamp).Format(time.TimeOnly),
			u.Token, u.Supply, u.SupplyDelta, u.Borrow, u.BorrowDelta)

	case protocol.TypeError:
		var msg protocol.Error
		json.Unmarshal(raw, &msg)
		logger.Error("Server error", zap.String("error", msg.Error))

	default:
		logger.Warn("Unknown message type", zap.String("type", envelope.Type))
	}
}
