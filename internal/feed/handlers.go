package feed

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ksred/goldfeed/internal/pricing"
	"github.com/ksred/goldfeed/pkg/response"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBuffer    = 16
	DefaultHeartbeat = 15 * time.Second

	wsWriteWait = 5 * time.Second
)

// StreamConfig tunes the per-connection stream behaviour
type StreamConfig struct {
	Buffer    int
	Heartbeat time.Duration
}

// GinHandlers contains HTTP handlers for the price feed endpoints
type GinHandlers struct {
	registry *Registry
	ticker   *Ticker
	config   StreamConfig
	upgrader websocket.Upgrader
}

// NewGinHandlers creates the price feed handlers. Zero config values fall back to defaults.
func NewGinHandlers(registry *Registry, ticker *Ticker, config StreamConfig) *GinHandlers {
	if config.Buffer < 1 {
		config.Buffer = DefaultBuffer
	}
	if config.Heartbeat <= 0 {
		config.Heartbeat = DefaultHeartbeat
	}

	return &GinHandlers{
		registry: registry,
		ticker:   ticker,
		config:   config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// StreamPricesHandler serves the price stream as server-sent events.
// The first event carries the latest price, then one event per tick.
func (h *GinHandlers) StreamPricesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := log.With().
			Str("component", "price_stream").
			Str("transport", "sse").
			Str("client_ip", c.ClientIP()).
			Logger()

		sub := NewStreamSubscriber(h.config.Buffer)

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Status(http.StatusOK)
		c.Writer.Flush()

		h.registry.Subscribe(sub)
		defer h.registry.Unsubscribe(sub)
		logger.Debug().Msg("stream opened")

		heartbeat := time.NewTicker(h.config.Heartbeat)
		defer heartbeat.Stop()

		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				logger.Debug().Msg("client disconnected")
				return
			case <-sub.Done():
				logger.Debug().Msg("stream closed by feed")
				return
			case tick := <-sub.Ticks():
				if err := sse.Encode(c.Writer, sse.Event{Data: tick}); err != nil {
					logger.Debug().Err(err).Msg("stream write failed")
					return
				}
				c.Writer.Flush()
			case <-heartbeat.C:
				if _, err := io.WriteString(c.Writer, ": heartbeat\n\n"); err != nil {
					logger.Debug().Err(err).Msg("heartbeat write failed")
					return
				}
				c.Writer.Flush()
			}
		}
	}
}

// StreamPricesWSHandler serves the same stream over a WebSocket, one text
// frame per tick.
func (h *GinHandlers) StreamPricesWSHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := log.With().
			Str("component", "price_stream").
			Str("transport", "websocket").
			Str("client_ip", c.ClientIP()).
			Logger()

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		sub := NewStreamSubscriber(h.config.Buffer)
		h.registry.Subscribe(sub)
		defer h.registry.Unsubscribe(sub)
		logger.Debug().Msg("stream opened")

		// Inbound frames are ignored; a read error means the client went away.
		go func() {
			defer sub.Close()
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(h.config.Heartbeat)
		defer ping.Stop()

		for {
			select {
			case <-sub.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(wsWriteWait))
				logger.Debug().Msg("stream closed")
				return
			case tick := <-sub.Ticks():
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(tick); err != nil {
					logger.Debug().Err(err).Msg("stream write failed")
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					logger.Debug().Err(err).Msg("ping failed")
					return
				}
			}
		}
	}
}

// CurrentPriceHandler returns the last broadcast price
func (h *GinHandlers) CurrentPriceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tick, ok := h.registry.Latest()
		if !ok {
			response.ServiceUnavailable(c, response.MsgPriceUnavailable)
			return
		}
		response.Success(c, "price", tick.Price)
	}
}

// MarketEventHandler applies a price shock. Body: {"magnitude": 0.02}
func (h *GinHandlers) MarketEventHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Magnitude *float64 `json:"magnitude"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, response.MsgInvalidBody)
			return
		}
		if request.Magnitude == nil {
			response.BadRequest(c, "Missing required field: magnitude")
			return
		}

		tick, err := h.ticker.SimulateEvent(c.Request.Context(), *request.Magnitude)
		if err != nil {
			h.handleCommandError(c, err)
			return
		}

		log.Info().
			Str("component", "price_feed").
			Float64("magnitude", *request.Magnitude).
			Float64("price", tick.Price).
			Msg("market event applied")

		response.SuccessWithMessage(c, "price", tick.Price, "Market event applied")
	}
}

// ResetHandler returns the price to its base value
func (h *GinHandlers) ResetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tick, err := h.ticker.Reset(c.Request.Context())
		if err != nil {
			h.handleCommandError(c, err)
			return
		}

		log.Info().Str("component", "price_feed").Float64("price", tick.Price).Msg("price reset")
		response.SuccessWithMessage(c, "price", tick.Price, "Price reset to base")
	}
}

func (h *GinHandlers) handleCommandError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pricing.ErrInvalidMagnitude):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrTickerStopped):
		response.ServiceUnavailable(c, err.Error())
	default:
		log.Error().Err(err).Str("component", "price_feed").Msg("price command failed")
		response.InternalError(c, response.MsgInternalError)
	}
}
