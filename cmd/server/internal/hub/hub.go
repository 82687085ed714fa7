// Package hub bridges store-level rate updates to connected sessions.
// All session state is owned by a single run loop fed by a bounded typed
// event channel; nothing here needs a lock.
package hub

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/defistream/aave-apy-monitor/pkg/models"
	"github.com/defistream/aave-apy-monitor/pkg/protocol"
)

const (
	heartbeatPeriod = 30 * time.Second
	eventBuffer     = 256
)

// Session is one connected client as the hub sees it. Sends must never
// block; Close performs a normal closure, Terminate an abrupt one. Both
// are safe to repeat.
type Session interface {
	SendJSON(v interface{})
	Ping()
	Close()
	Terminate()
}

// RateStore is the read/subscribe side of the shared store.
type RateStore interface {
	CurrentSnapshot(ctx context.Context, token string) (models.RateSnapshot, bool, error)
	History(ctx context.Context, token string, since time.Time) ([]models.HistoryPoint, error)
	RunPubSub(ctx context.Context, onUpdate func(models.APYUpdate))
}

type eventKind int

const (
	evJoin eventKind = iota
	evLeave
	evRequest
	evPong
	evUpdate
)

type hubEvent struct {
	kind   eventKind
	id     uint64
	sess   Session
	req    protocol.Request
	update models.APYUpdate
}

// sessionState is owned exclusively by the run loop.
type sessionState struct {
	sess  Session
	subs  map[string]bool
	alive bool
}

type Hub struct {
	store  RateStore
	logger *zap.Logger

	events chan hubEvent
	nextID atomic.Uint64

	sessions map[uint64]*sessionState
}

func NewHub(store RateStore, logger *zap.Logger) *Hub {
	return &Hub{
		store:    store,
		logger:   logger,
		events:   make(chan hubEvent, eventBuffer),
		sessions: make(map[uint64]*sessionState),
	}
}

// Register allocates a session id and queues the join. The welcome
// messages are sent by the run loop.
func (h *Hub) Register(sess Session) uint64 {
	id := h.nextID.Add(1)
	h.enqueue(hubEvent{kind: evJoin, id: id, sess: sess})
	return id
}

// Unregister is idempotent; repeat teardown is a no-op.
func (h *Hub) Unregister(id uint64) {
	h.enqueue(hubEvent{kind: evLeave, id: id})
}

// HandleRequest queues one decoded client message.
func (h *Hub) HandleRequest(id uint64, req protocol.Request) {
	h.enqueue(hubEvent{kind: evRequest, id: id, req: req})
}

// Pong marks the session live for the current heartbeat round.
func (h *Hub) Pong(id uint64) {
	h.enqueue(hubEvent{kind: evPong, id: id})
}

func (h *Hub) enqueue(ev hubEvent) {
	select {
	case h.events <- ev:
	default:
		// Delivery is at-most-once; shedding under pressure beats blocking
		// the producer.
		h.logger.Warn("Hub event queue full, dropping event", zap.Int("kind", int(ev.kind)))
	}
}

// Run processes events until ctx is cancelled, then closes every session
// with a normal closure.
func (h *Hub) Run(ctx context.Context) {
	go h.store.RunPubSub(ctx, func(u models.APYUpdate) {
		h.enqueue(hubEvent{kind: evUpdate, update: u})
	})

	heartbeat := time.NewTicker(heartbeatPeriod)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case ev := <-h.events:
			switch ev.kind {
			case evJoin:
				h.handleJoin(ctx, ev.id, ev.sess)
			case evLeave:
				delete(h.sessions, ev.id)
			case evRequest:
				h.handleRequest(ctx, ev.id, ev.req)
			case evPong:
				if st, ok := h.sessions[ev.id]; ok {
					st.alive = true
				}
			case evUpdate:
				h.fanOut(ev.update)
			}

		case <-heartbeat.C:
			h.sweepSessions()
		}
	}
}

// handleJoin creates the session defaulted to every instrument and sends
// the welcome pair: connection confirmation, then a full snapshot so the
// client is current before the next update arrives.
func (h *Hub) handleJoin(ctx context.Context, id uint64, sess Session) {
	subs := make(map[string]bool, len(models.Instruments))
	for _, sym := range models.Symbols() {
		subs[sym] = true
	}
	h.sessions[id] = &sessionState{sess: sess, subs: subs, alive: true}
	h.logger.Info("Client connected", zap.Uint64("client_id", id), zap.Int("total_clients", len(h.sessions)))

	sess.SendJSON(protocol.Connected{
		Type: protocol.TypeConnected,
		Data: protocol.ConnectedData{
			Message:         "Connected to Aave APY Monitor",
			SupportedTokens: models.Symbols(),
		},
	})
	sess.SendJSON(h.currentResponse(ctx))
}

func (h *Hub) handleRequest(ctx context.Context, id uint64, req protocol.Request) {
	st, ok := h.sessions[id]
	if !ok {
		return
	}

	switch req.Type {
	case protocol.TypeCurrent:
		st.sess.SendJSON(h.currentResponse(ctx))

	case protocol.TypeHistory:
		if req.Token == "" || req.Hours <= 0 {
			st.sess.SendJSON(protocol.NewError("Invalid history request. Requires token and hours."))
			return
		}
		st.sess.SendJSON(h.historyResponse(ctx, req.Token, req.Hours))

	case protocol.TypeSubscribe:
		if req.Tokens == nil {
			st.sess.SendJSON(protocol.NewError("Invalid subscribe request. Requires tokens array."))
			return
		}
		subs := make(map[string]bool)
		for _, token := range req.Tokens {
			if _, known := models.InstrumentBySymbol(token); known {
				subs[token] = true
			}
		}
		st.subs = subs
		subscribed := make([]string, 0, len(subs))
		for _, sym := range models.Symbols() {
			if subs[sym] {
				subscribed = append(subscribed, sym)
			}
		}
		h.logger.Info("Client subscription updated",
			zap.Uint64("client_id", id), zap.Strings("tokens", subscribed))
		st.sess.SendJSON(protocol.Connected{
			Type: protocol.TypeConnected,
			Data: protocol.ConnectedData{
				Message:          "Subscription updated",
				SubscribedTokens: subscribed,
			},
		})

	default:
		st.sess.SendJSON(protocol.NewError("Unknown message type: " + req.Type))
	}
}

// currentResponse reads every instrument's live snapshot; instruments
// without one are omitted, per-token read failures are logged and skipped.
func (h *Hub) currentResponse(ctx context.Context) protocol.Current {
	data := make(map[string]models.RateSnapshot)
	for _, sym := range models.Symbols() {
		snap, ok, err := h.store.CurrentSnapshot(ctx, sym)
		if err != nil {
			h.logger.Error("Failed to get current rates", zap.String("token", sym), zap.Error(err))
			continue
		}
		if ok {
			data[sym] = snap
		}
	}
	return protocol.Current{Type: protocol.TypeCurrent, Data: data}
}

// historyResponse returns the trailing window for one token. Unknown
// tokens and store failures both yield an empty list; the dashboard
// treats data as always-an-array and failures are server-side noise.
func (h *Hub) historyResponse(ctx context.Context, token string, hours int) protocol.History {
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	points, err := h.store.History(ctx, token, since)
	if err != nil {
		h.logger.Error("Failed to get history", zap.String("token", token), zap.Error(err))
		points = nil
	}
	if points == nil {
		points = []models.HistoryPoint{}
	}
	return protocol.History{Type: protocol.TypeHistory, Token: token, Data: points}
}

// fanOut delivers one update to every session subscribed to its token.
// Sends are non-blocking per session; one slow client cannot stall the
// others.
func (h *Hub) fanOut(update models.APYUpdate) {
	msg := protocol.Update{Type: protocol.TypeUpdate, Data: update}
	sent := 0
	for _, st := range h.sessions {
		if st.subs[update.Token] {
			st.sess.SendJSON(msg)
			sent++
		}
	}
	h.logger.Info("Broadcasted update",
		zap.String("token", update.Token),
		zap.Int("clients_sent", sent),
		zap.Int("total_clients", len(h.sessions)))
}

// sweepSessions evicts sessions that missed the previous heartbeat and
// pings the rest.
func (h *Hub) sweepSessions() {
	for id, st := range h.sessions {
		if !st.alive {
			h.logger.Warn("Client not responding, terminating", zap.Uint64("client_id", id))
			st.sess.Terminate()
			delete(h.sessions, id)
			continue
		}
		st.alive = false
		st.sess.Ping()
	}
}

func (h *Hub) shutdown() {
	h.logger.Info("Closing client sessions", zap.Int("total_clients", len(h.sessions)))
	for id, st := range h.sessions {
		st.sess.Close()
		delete(h.sessions, id)
	}
}
