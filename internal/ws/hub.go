package ws

import (
	"sync"

	"crash-service/pkg/logger"

	"go.uber.org/zap"
)

// Outbound event types.
const (
	EventConnected            = "connected"
	EventRoundStart           = "round_start"
	EventRoundCountdown       = "round_countdown"
	EventRoundLockBets        = "round_lock_bets"
	EventMultiplierUpdate     = "multiplier_update"
	EventRoundCrash           = "round_crash"
	EventBetAccepted          = "bet_accepted"
	EventBetFailed            = "bet_failed"
	EventCashoutSuccess       = "cashout_success"
	EventCashoutFailed        = "cashout_failed"
	EventPlayerBet            = "player_bet"
	EventPlayerCashout        = "player_cashout"
	EventAutoCashoutTriggered = "auto_cashout_triggered"
	EventBetCrashed           = "bet_crashed"
	EventAutoCashoutCancelled = "auto_cashout_cancelled"
)

type Event struct {
	Type string      `json:"type"`
	Seq  int64       `json:"seq"`
	Data interface{} `json:"data,omitempty"`
}

// Hub fans round and bet events out to connected clients. Subscribers are
// keyed by mode and user; broadcasts go to everyone on a mode, private
// events only to the affected user. Channels are buffered and dropped-on-
// full so a slow client can never stall the scheduler's tick loop.
type Hub struct {
	mu    sync.Mutex
	seq   int64
	modes map[string]map[int64]chan Event
}

func NewHub() *Hub {
	return &Hub{modes: make(map[string]map[int64]chan Event)}
}

// Subscribe registers a user on a mode. A reconnect replaces the previous
// subscription; the stale channel is closed so its write pump exits.
func (h *Hub) Subscribe(mode string, userID int64) chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.modes[mode]
	if !ok {
		subs = make(map[int64]chan Event)
		h.modes[mode] = subs
	}
	if old, ok := subs[userID]; ok {
		close(old)
	}
	ch := make(chan Event, 16)
	subs[userID] = ch
	return ch
}

// Unsubscribe removes the user's subscription if ch is still the live one.
func (h *Hub) Unsubscribe(mode string, userID int64, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.modes[mode]
	if !ok {
		return
	}
	if current, ok := subs[userID]; ok && current == ch {
		delete(subs, userID)
		close(current)
	}
}

// Broadcast sends an event to every subscriber on a mode.
func (h *Hub) Broadcast(mode, eventType string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	msg := Event{Type: eventType, Seq: h.seq, Data: data}
	for userID, ch := range h.modes[mode] {
		select {
		case ch <- msg:
		default:
			logger.Log.Warn("ws subscriber channel full, dropping event",
				zap.String("mode", mode), zap.Int64("userID", userID), zap.String("type", eventType))
		}
	}
}

// SendToUser delivers a private event to one subscriber.
func (h *Hub) SendToUser(mode string, userID int64, eventType string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.modes[mode][userID]
	if !ok {
		return
	}
	h.seq++
	select {
	case ch <- Event{Type: eventType, Seq: h.seq, Data: data}:
	default:
		logger.Log.Warn("ws subscriber channel full, dropping event",
			zap.String("mode", mode), zap.Int64("userID", userID), zap.String("type", eventType))
	}
}

// Subscribers reports the audience size for a mode.
func (h *Hub) Subscribers(mode string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.modes[mode])
}
