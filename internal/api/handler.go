package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mitchivanov/waverider/internal/manager"
	"github.com/mitchivanov/waverider/internal/ws"
	"github.com/mitchivanov/waverider/pkg/db"
	"github.com/mitchivanov/waverider/pkg/exchanges/common"
)

// Session is the slice of an exchange client the control surface needs
// on its own: credential checks and symbol metadata before a bot exists.
type Session interface {
	GetAccountBalances(ctx context.Context) ([]common.Balance, error)
	GetSymbolFilters(ctx context.Context, symbol string) (*common.SymbolFilters, error)
}

// SessionFactory builds an exchange session from request credentials.
type SessionFactory func(apiKey, apiSecret string, testnet bool) Session

// Server wires the HTTP control surface around the supervisor.
type Server struct {
	Router   *gin.Engine
	Store    *db.BotQueries
	Sup      *manager.Supervisor
	Fanout   *ws.Service
	Sessions SessionFactory
}

func NewServer(store *db.BotQueries, sup *manager.Supervisor, fanout *ws.Service, sessions SessionFactory) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:   r,
		Store:    store,
		Sup:      sup,
		Fanout:   fanout,
		Sessions: sessions,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	s.Router.POST("/bot/start", s.startBot)
	s.Router.POST("/bot/:id/stop", s.stopBot)
	s.Router.DELETE("/bot/:id", s.deleteBot)
	s.Router.GET("/bots", s.listBots)
	s.Router.POST("/balance", s.checkBalance)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}
