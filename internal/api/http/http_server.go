package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/olyamironova/solbot-sim/internal/api/dto"
	"github.com/olyamironova/solbot-sim/internal/core"
	"github.com/olyamironova/solbot-sim/internal/domain"
	"github.com/olyamironova/solbot-sim/internal/middleware"
	"go.uber.org/zap"
)

const (
	streamBuffer = 16
	writeTimeout = 5 * time.Second
)

type HTTPServer struct {
	Eng      *core.Engine
	limiter  *middleware.RateLimiter
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHTTPServer throttles each user to one request per throttle.
func NewHTTPServer(eng *core.Engine, throttle time.Duration, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{
		Eng:     eng,
		limiter: middleware.NewRateLimiter(throttle),
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *HTTPServer) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(s.logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(s.limiter.Middleware())
	api.POST("/start", s.start)
	api.POST("/stop", s.stop)
	api.GET("/tick", s.tick)
	api.POST("/tick", s.tick)
	api.POST("/trade", s.trade)
	api.POST("/reset", s.reset)
	api.GET("/portfolio", s.portfolio)
	api.GET("/trades", s.trades)
	api.GET("/stats", s.stats)
	api.GET("/status", s.status)
	api.GET("/stream", s.stream)
	return r
}

// Server returns an http.Server so the caller controls shutdown.
func (s *HTTPServer) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *HTTPServer) start(c *gin.Context) {
	var req dto.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res := s.Eng.Start(c.Request.Context(), middleware.UserID(c), req.Params())
	code := http.StatusOK
	if res.Status == domain.StatusError {
		code = http.StatusBadRequest
	}
	c.JSON(code, res)
}

func (s *HTTPServer) stop(c *gin.Context) {
	c.JSON(http.StatusOK, s.Eng.Stop(c.Request.Context(), middleware.UserID(c)))
}

func (s *HTTPServer) tick(c *gin.Context) {
	c.JSON(http.StatusOK, s.Eng.Tick(c.Request.Context(), middleware.UserID(c)))
}

func (s *HTTPServer) trade(c *gin.Context) {
	var req dto.TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.Eng.ManualTrade(c.Request.Context(), middleware.UserID(c), side, req.Amount))
}

func (s *HTTPServer) reset(c *gin.Context) {
	c.JSON(http.StatusOK, s.Eng.Reset(c.Request.Context(), middleware.UserID(c)))
}

func (s *HTTPServer) portfolio(c *gin.Context) {
	c.JSON(http.StatusOK, s.Eng.Portfolio(c.Request.Context(), middleware.UserID(c)))
}

func (s *HTTPServer) trades(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	userID := middleware.UserID(c)
	trades := s.Eng.Trades(c.Request.Context(), userID, limit)
	c.JSON(http.StatusOK, dto.NewTradesResponse(userID, trades))
}

func (s *HTTPServer) stats(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewStatsResponse(s.Eng.Stats(c.Request.Context(), middleware.UserID(c))))
}

func (s *HTTPServer) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.Eng.Status(c.Request.Context(), middleware.UserID(c)))
}

// stream pushes every result for the user as a JSON text frame until the
// client goes away.
func (s *HTTPServer) stream(c *gin.Context) {
	userID := middleware.UserID(c)
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	defer conn.Close()

	events, unsubscribe := s.Eng.Events().Subscribe(userID, streamBuffer)
	defer unsubscribe()

	// drain client frames so close and ping control messages are handled
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case res, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(res); err != nil {
				s.logger.Debug("websocket write failed", zap.String("user_id", userID), zap.Error(err))
				return
			}
		}
	}
}
