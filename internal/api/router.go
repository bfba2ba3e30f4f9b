package api

import (
	"net/http"
	"strconv"

	"crash-service/internal/middleware"
	"crash-service/internal/model"
	"crash-service/internal/service"
	"crash-service/internal/service/ledger"
	"crash-service/internal/ws"
	appErr "crash-service/pkg/errors"
	"crash-service/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	services *service.Container
}

func RegisterRoutes(r *gin.Engine, services *service.Container) {
	handler := &Handler{services: services}
	wsHandler := ws.NewHandler(services.Hub, services.Ledger)

	r.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{"message": "pong"})
	})

	v1 := r.Group("/crash/v1")
	{
		v1.GET("/rounds/recent", handler.RecentRounds)
		v1.POST("/rounds/verify", handler.VerifyRound)

		betGroup := v1.Group("/")
		betGroup.Use(middleware.AuthRequired())
		{
			betGroup.POST("/bets", handler.PlaceBet)
			betGroup.POST("/bets/:id/cashout", handler.Cashout)
			betGroup.POST("/bets/:id/cancel", handler.CancelBet)
			betGroup.GET("/me/bets", handler.MyBets)
			betGroup.GET("/me/stats", handler.MyStats)
			betGroup.GET("/wallet", handler.GetWallet)
		}
	}

	adminGroup := r.Group("/admin")
	adminGroup.Use(middleware.AdminAuthRequired())
	{
		adminGroup.GET("/crash/settings/:mode", handler.AdminGetSettings)
		adminGroup.PUT("/crash/settings/:mode", handler.AdminUpdateSettings)
	}

	r.GET("/ws/crash/:mode", wsHandler.HandleCrashWS)
}

type placeBetBody struct {
	Mode        string `json:"mode" binding:"required,oneof=real demo"`
	Amount      int64  `json:"amount" binding:"required,min=1"`
	AutoCashout int64  `json:"autoCashout" binding:"min=0"`
	DeviceFP    string `json:"deviceFp"`
}

func (h *Handler) PlaceBet(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body placeBetBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.services.Ledger.PlaceBet(c.Request.Context(), ledger.PlaceBetParams{
		UserID:      userID,
		Mode:        body.Mode,
		Amount:      body.Amount,
		AutoCashout: body.AutoCashout,
		OriginIP:    c.ClientIP(),
		DeviceFP:    body.DeviceFP,
	})
	if err != nil {
		h.handleLedgerError(c, err)
		return
	}

	response.Success(c, gin.H{
		"bet":         res.Bet,
		"balanceMain": res.Wallet.BalanceMain,
		"balanceSpot": res.Wallet.BalanceSpot,
	})
}

type cashoutBody struct {
	Multiplier float64 `json:"multiplier" binding:"required"`
}

func (h *Handler) Cashout(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	betID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || betID <= 0 {
		response.Error(c, http.StatusBadRequest, "invalid bet id")
		return
	}

	var body cashoutBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.services.Ledger.Cashout(c.Request.Context(), userID, betID, model.ToHundredths(body.Multiplier))
	if err != nil {
		h.handleLedgerError(c, err)
		return
	}

	response.Success(c, gin.H{
		"bet":         res.Bet,
		"winAmount":   res.Bet.WinAmount,
		"multiplier":  float64(res.Bet.CashoutMultiplier) / 100,
		"balanceMain": res.Wallet.BalanceMain,
		"balanceSpot": res.Wallet.BalanceSpot,
	})
}

func (h *Handler) CancelBet(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	betID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || betID <= 0 {
		response.Error(c, http.StatusBadRequest, "invalid bet id")
		return
	}

	res, err := h.services.Ledger.CancelBet(c.Request.Context(), userID, betID)
	if err != nil {
		h.handleLedgerError(c, err)
		return
	}

	response.Success(c, gin.H{
		"bet":         res.Bet,
		"balanceMain": res.Wallet.BalanceMain,
		"balanceSpot": res.Wallet.BalanceSpot,
	})
}

func (h *Handler) RecentRounds(c *gin.Context) {
	mode := c.DefaultQuery("mode", model.ModeReal)
	if mode != model.ModeReal && mode != model.ModeDemo {
		response.Error(c, http.StatusBadRequest, "invalid mode")
		return
	}
	limit, err := parsePositiveIntQuery(c, "limit", 50)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	rounds, err := h.services.Ledger.RecentRounds(c.Request.Context(), mode, limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to list rounds")
		return
	}
	response.Success(c, gin.H{"rounds": rounds})
}

type verifyBody struct {
	Mode       string  `json:"mode" binding:"omitempty,oneof=real demo"`
	ServerSeed string  `json:"serverSeed" binding:"required"`
	ClientSeed string  `json:"clientSeed" binding:"required"`
	Nonce      int64   `json:"nonce" binding:"required,min=1"`
	CrashPoint float64 `json:"crashPoint" binding:"required"`
}

func (h *Handler) VerifyRound(c *gin.Context) {
	var body verifyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	mode := body.Mode
	if mode == "" {
		mode = model.ModeReal
	}

	valid, err := h.services.Ledger.VerifyRound(c.Request.Context(), ledger.VerifyParams{
		Mode:       mode,
		ServerSeed: body.ServerSeed,
		ClientSeed: body.ClientSeed,
		Nonce:      body.Nonce,
		CrashPoint: model.ToHundredths(body.CrashPoint),
	})
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "verification failed")
		return
	}
	response.Success(c, gin.H{"valid": valid})
}

func (h *Handler) MyBets(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	mode := c.DefaultQuery("mode", model.ModeReal)
	limit, err := parsePositiveIntQuery(c, "limit", 50)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	bets, err := h.services.Ledger.UserBets(c.Request.Context(), userID, mode, limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to list bets")
		return
	}
	response.Success(c, gin.H{"bets": bets})
}

func (h *Handler) MyStats(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	mode := c.DefaultQuery("mode", model.ModeReal)

	stats, err := h.services.Ledger.UserStats(c.Request.Context(), userID, mode)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to load stats")
		return
	}
	response.Success(c, stats)
}

func (h *Handler) GetWallet(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	wallet, err := h.services.Wallet.GetWallet(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to load wallet")
		return
	}
	response.Success(c, wallet)
}

func (h *Handler) AdminGetSettings(c *gin.Context) {
	mode := c.Param("mode")
	if mode != model.ModeReal && mode != model.ModeDemo {
		response.Error(c, http.StatusBadRequest, "invalid mode")
		return
	}
	settings, err := h.services.Ledger.Settings(c.Request.Context(), mode)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to load settings")
		return
	}
	response.Success(c, settings)
}

type settingsBody struct {
	MinBet           *int64   `json:"minBet"`
	MaxBet           *int64   `json:"maxBet"`
	MaxBetPerRound   *int64   `json:"maxBetPerRound"`
	MaxRoundExposure *int64   `json:"maxRoundExposure"`
	MaxWinPerBet     *int64   `json:"maxWinPerBet"`
	MaxMultiplier    *int64   `json:"maxMultiplier"`
	HouseEdge        *float64 `json:"houseEdge"`
	MinAutoCashout   *int64   `json:"minAutoCashout"`
	MaxAutoCashout   *int64   `json:"maxAutoCashout"`
	Enabled          *bool    `json:"enabled"`
	BetCooldownMS    *int64   `json:"betCooldownMs"`
	MaxBetsPerMinute *int64   `json:"maxBetsPerMinute"`
}

func (h *Handler) AdminUpdateSettings(c *gin.Context) {
	mode := c.Param("mode")
	if mode != model.ModeReal && mode != model.ModeDemo {
		response.Error(c, http.StatusBadRequest, "invalid mode")
		return
	}

	var body settingsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	settings, err := h.services.Ledger.UpdateSettings(c.Request.Context(), mode, ledger.SettingsUpdate{
		MinBet:           body.MinBet,
		MaxBet:           body.MaxBet,
		MaxBetPerRound:   body.MaxBetPerRound,
		MaxRoundExposure: body.MaxRoundExposure,
		MaxWinPerBet:     body.MaxWinPerBet,
		MaxMultiplier:    body.MaxMultiplier,
		HouseEdge:        body.HouseEdge,
		MinAutoCashout:   body.MinAutoCashout,
		MaxAutoCashout:   body.MaxAutoCashout,
		Enabled:          body.Enabled,
		BetCooldownMS:    body.BetCooldownMS,
		MaxBetsPerMinute: body.MaxBetsPerMinute,
	})
	if err != nil {
		h.handleLedgerError(c, err)
		return
	}
	response.Success(c, settings)
}

// handleLedgerError maps the error taxonomy onto HTTP statuses, always
// carrying the kind as a machine-readable reason code.
func (h *Handler) handleLedgerError(c *gin.Context, err error) {
	kind := appErr.KindOf(err)
	switch kind {
	case appErr.KindValidation:
		response.Fail(c, http.StatusBadRequest, string(kind), err.Error())
	case appErr.KindStateConflict:
		response.Fail(c, http.StatusConflict, string(kind), err.Error())
	case appErr.KindLimitExceeded:
		status := http.StatusBadRequest
		if err == appErr.ErrBetCooldown || err == appErr.ErrBetRateLimit {
			status = http.StatusTooManyRequests
		}
		response.Fail(c, status, string(kind), err.Error())
	case appErr.KindInsufficientFunds:
		response.Fail(c, http.StatusPaymentRequired, string(kind), err.Error())
	case appErr.KindUpstream:
		response.Fail(c, http.StatusServiceUnavailable, string(kind), err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, "internal error")
	}
}

func parsePositiveIntQuery(c *gin.Context, key string, defaultVal int) (int, error) {
	val := c.Query(key)
	if val == "" {
		return defaultVal, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return 0, appErr.New(appErr.KindValidation, "invalid "+key)
	}
	return parsed, nil
}

func getUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(middleware.ContextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
