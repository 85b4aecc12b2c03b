package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mitchivanov/waverider/internal/balance"
	"github.com/mitchivanov/waverider/internal/strategy"
	"github.com/mitchivanov/waverider/pkg/db"
)

// startRequest is the envelope of POST /bot/start. The same body also
// carries the type-specific strategy parameters, decoded separately.
type startRequest struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Testnet   bool   `json:"testnet"`
}

// startBot validates the request, verifies exchange inventory, creates
// the bot row, and hands the bot to the supervisor. A failed precheck
// leaves no bot row behind.
func (s *Server) startBot(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "unreadable body"})
		return
	}
	var req startRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "malformed request body"})
		return
	}
	if req.Symbol == "" || req.APIKey == "" || req.APISecret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "symbol, api_key and api_secret are required"})
		return
	}

	baseNeeded, quoteNeeded, err := strategy.RequiredFunds(req.Type, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	ctx := c.Request.Context()
	session := s.Sessions(req.APIKey, req.APISecret, req.Testnet)
	filters, err := session.GetSymbolFilters(ctx, req.Symbol)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("symbol %s: %v", req.Symbol, err)})
		return
	}
	if err := balance.Verify(ctx, session, filters.BaseAsset, filters.QuoteAsset, baseNeeded, quoteNeeded); err != nil {
		if errors.Is(err, balance.ErrInsufficientFunds) {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		} else {
			c.JSON(http.StatusBadGateway, gin.H{"detail": fmt.Sprintf("balance check failed: %v", err)})
		}
		return
	}

	bot := db.Bot{
		Type:      req.Type,
		Symbol:    req.Symbol,
		APIKey:    req.APIKey,
		APISecret: req.APISecret,
		Testnet:   req.Testnet,
		Status:    db.BotStatusActive,
	}
	botID, err := s.Store.CreateBot(ctx, bot)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": fmt.Sprintf("create bot: %v", err)})
		return
	}
	bot.ID = botID

	if err := s.Store.SaveBotConfig(ctx, botID, string(raw)); err != nil {
		log.Printf("[API] save config for bot %d: %v", botID, err)
	}

	if err := s.Sup.StartBot(ctx, bot, raw); err != nil {
		if serr := s.Store.SetBotStatus(ctx, botID, db.BotStatusInactive); serr != nil {
			log.Printf("[API] mark bot %d inactive: %v", botID, serr)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": fmt.Sprintf("start bot: %v", err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"bot_id": botID})
}

func (s *Server) stopBot(c *gin.Context) {
	botID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid bot id"})
		return
	}

	if err := s.Sup.StopBot(c.Request.Context(), botID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "bot stopped"})
}

// deleteBot stops the bot if needed and purges every row it owns.
func (s *Server) deleteBot(c *gin.Context) {
	botID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid bot id"})
		return
	}

	ctx := c.Request.Context()
	if err := s.Sup.StopBot(ctx, botID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	if err := s.Store.DeleteBot(ctx, botID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "bot not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "bot deleted"})
}

type botListItem struct {
	ID            int64   `json:"id"`
	Type          string  `json:"type"`
	Symbol        string  `json:"symbol"`
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

func (s *Server) listBots(c *gin.Context) {
	bots, err := s.Store.ListBots(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	items := make([]botListItem, 0, len(bots))
	for _, b := range bots {
		item := botListItem{ID: b.ID, Type: b.Type, Symbol: b.Symbol, Status: b.Status}
		if uptime, ok := s.Sup.Uptime(b.ID); ok {
			item.UptimeSeconds = uptime.Seconds()
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, items)
}

type balanceRequest struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Testnet   bool   `json:"testnet"`
}

// checkBalance returns the nonzero balances visible to the credentials.
func (s *Server) checkBalance(c *gin.Context) {
	var req balanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "malformed request body"})
		return
	}
	if req.APIKey == "" || req.APISecret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "api_key and api_secret are required"})
		return
	}

	session := s.Sessions(req.APIKey, req.APISecret, req.Testnet)
	balances, err := session.GetAccountBalances(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"detail": fmt.Sprintf("balance lookup failed: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": balance.NonZero(balances)})
}
