package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"crash-service/internal/model"
	"crash-service/internal/service/ledger"
	pkgAuth "crash-service/pkg/auth"
	appErr "crash-service/pkg/errors"
	"crash-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Handler struct {
	hub    *Hub
	ledger *ledger.Service
}

func NewHandler(hub *Hub, ledgerSvc *ledger.Service) *Handler {
	return &Handler{hub: hub, ledger: ledgerSvc}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for dev
	},
}

// HandleCrashWS upgrades /ws/crash/:mode. The connection is scoped to one
// mode; inbound commands race the scheduler through the ledger exactly like
// their REST counterparts.
func (h *Handler) HandleCrashWS(c *gin.Context) {
	mode := c.Param("mode")
	if mode != model.ModeReal && mode != model.ModeDemo {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mode"})
		return
	}

	token, err := getTokenFromRequest(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	claims, err := pkgAuth.ParseUserToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	userID := claims.SubjectID

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	logger.Log.Info("New crash WebSocket connection",
		zap.String("mode", mode),
		zap.Int64("userID", userID),
	)

	client := newClient(conn, h.hub, h.ledger, userID, mode, c.ClientIP())
	client.run()
}

func getTokenFromRequest(c *gin.Context) (string, error) {
	token := strings.TrimSpace(c.Query("token"))
	if token != "" {
		return token, nil
	}
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			token = strings.TrimSpace(parts[1])
			if token != "" {
				return token, nil
			}
		}
	}
	return "", errors.New("missing token")
}

type client struct {
	conn      *websocket.Conn
	hub       *Hub
	ledger    *ledger.Service
	userID    int64
	mode      string
	originIP  string
	outbound  chan Event
	done      chan struct{}
	pingEvery time.Duration

	// Guards conn writes: command replies go out on the read goroutine
	// while writePump drains hub events, and the connection allows only
	// one writer at a time.
	writeMu sync.Mutex
}

func newClient(conn *websocket.Conn, hub *Hub, ledgerSvc *ledger.Service, userID int64, mode, originIP string) *client {
	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	return &client{
		conn:      conn,
		hub:       hub,
		ledger:    ledgerSvc,
		userID:    userID,
		mode:      mode,
		originIP:  originIP,
		outbound:  hub.Subscribe(mode, userID),
		done:      make(chan struct{}),
		pingEvery: 25 * time.Second,
	}
}

func (c *client) run() {
	c.safeWrite(Event{Type: EventConnected, Data: gin.H{"mode": c.mode}})
	go c.writePump()
	c.readPump()
}

func (c *client) readPump() {
	defer func() {
		close(c.done)
		c.hub.Unsubscribe(c.mode, c.userID, c.outbound)
		c.conn.Close()
	}()

	for {
		mt, message, err := c.conn.ReadMessage()
		if err != nil {
			logger.Log.Info("WS read error", zap.Error(err), zap.Int64("userID", c.userID), zap.String("mode", c.mode))
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		var incoming struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(message, &incoming); err != nil {
			c.safeWrite(Event{Type: "error", Data: gin.H{"message": "invalid payload"}})
			continue
		}
		if incoming.Type == "" {
			continue
		}
		c.handleCommand(incoming.Type, incoming.Data)
	}
}

func (c *client) handleCommand(command string, data json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch command {
	case "place_bet":
		c.handlePlaceBet(ctx, data)
	case "cashout":
		c.handleCashout(ctx, data)
	case "cancel_auto_cashout":
		c.handleCancelAutoCashout(ctx, data)
	case "ping":
		c.safeWrite(Event{Type: "pong", Data: gin.H{"message": "pong"}})
	default:
		c.safeWrite(Event{Type: "error", Data: gin.H{"message": "unsupported command"}})
	}
}

func (c *client) handlePlaceBet(ctx context.Context, data json.RawMessage) {
	var payload struct {
		Amount      int64  `json:"amount"`
		AutoCashout int64  `json:"auto_cashout"`
		DeviceFP    string `json:"device_fp"`
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &payload)
	}

	res, err := c.ledger.PlaceBet(ctx, ledger.PlaceBetParams{
		UserID:      c.userID,
		Mode:        c.mode,
		Amount:      payload.Amount,
		AutoCashout: payload.AutoCashout,
		OriginIP:    c.originIP,
		DeviceFP:    payload.DeviceFP,
	})
	if err != nil {
		c.safeWrite(Event{Type: EventBetFailed, Data: failureData(err)})
		return
	}

	c.safeWrite(Event{Type: EventBetAccepted, Data: gin.H{
		"bet_id":       res.Bet.ID,
		"round_id":     res.Bet.RoundID,
		"amount":       res.Bet.Amount,
		"auto_cashout": res.Bet.AutoCashout,
		"balance_main": res.Wallet.BalanceMain,
		"balance_spot": res.Wallet.BalanceSpot,
	}})
	c.hub.Broadcast(c.mode, EventPlayerBet, gin.H{
		"user_id": c.userID,
		"bet_id":  res.Bet.ID,
		"amount":  res.Bet.Amount,
	})
}

func (c *client) handleCashout(ctx context.Context, data json.RawMessage) {
	var payload struct {
		BetID      int64   `json:"bet_id"`
		Multiplier float64 `json:"multiplier"`
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &payload)
	}

	claimed := model.ToHundredths(payload.Multiplier)
	res, err := c.ledger.Cashout(ctx, c.userID, payload.BetID, claimed)
	if err != nil {
		c.safeWrite(Event{Type: EventCashoutFailed, Data: failureData(err)})
		return
	}

	c.safeWrite(Event{Type: EventCashoutSuccess, Data: gin.H{
		"bet_id":       res.Bet.ID,
		"multiplier":   float64(res.Bet.CashoutMultiplier) / 100,
		"win_amount":   res.Bet.WinAmount,
		"balance_main": res.Wallet.BalanceMain,
		"balance_spot": res.Wallet.BalanceSpot,
	}})
	c.hub.Broadcast(c.mode, EventPlayerCashout, gin.H{
		"user_id":    c.userID,
		"bet_id":     res.Bet.ID,
		"multiplier": float64(res.Bet.CashoutMultiplier) / 100,
		"win_amount": res.Bet.WinAmount,
	})
}

func (c *client) handleCancelAutoCashout(ctx context.Context, data json.RawMessage) {
	var payload struct {
		BetID int64 `json:"bet_id"`
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &payload)
	}

	bet, err := c.ledger.CancelAutoCashout(ctx, c.userID, payload.BetID)
	if err != nil {
		c.safeWrite(Event{Type: EventBetFailed, Data: failureData(err)})
		return
	}
	c.safeWrite(Event{Type: EventAutoCashoutCancelled, Data: gin.H{"bet_id": bet.ID}})
}

func failureData(err error) gin.H {
	kind := appErr.KindOf(err)
	if kind == "" {
		return gin.H{"reason": "internal", "message": "operation failed"}
	}
	return gin.H{"reason": string(kind), "message": err.Error()}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.outbound:
			if !ok {
				return
			}
			if err := c.writeJSON(msg); err != nil {
				logger.Log.Info("WS write error", zap.Error(err), zap.Int64("userID", c.userID), zap.String("mode", c.mode))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) writeJSON(msg Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *client) safeWrite(msg Event) {
	if err := c.writeJSON(msg); err != nil {
		logger.Log.Info("WS write error", zap.Error(err), zap.Int64("userID", c.userID), zap.String("mode", c.mode))
	}
}
