package controllers

import (
	"net/http"
	"time"

	"tunnel-keeper/internal/logger"
	"tunnel-keeper/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	eventWriteWait  = 10 * time.Second
	eventPongWait   = 60 * time.Second
	eventPingPeriod = 54 * time.Second
)

// 管理接口只监听本机和unix socket，不校验Origin
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type EventsController struct {
	hub *services.EventHub
}

func NewEventsController(hub *services.EventHub) *EventsController {
	return &EventsController{hub: hub}
}

func (e *EventsController) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/events", e.Stream)
}

// Stream pushes tunnel lifecycle events over a websocket
//
//	@Summary		Lifecycle event stream
//	@Description	Websocket stream of tunnel events (started, renewed, url_captured, capture_failed, stopped, removed, restored). Optional query service filters by service name
//	@Tags			Tunnels
//	@Param			service	query	string	false	"Only events of this service"
//	@Success		101		{object}	models.TunnelEvent	"Switching protocols, then one JSON event per message"
//	@Router			/api/events [get]
func (e *EventsController) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("Upgrade event stream failed: %v", err)
		return
	}
	filter := c.Query("service")
	events, cancel := e.hub.Subscribe()
	defer cancel()

	// 读协程只处理pong和关闭帧
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(eventPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(eventPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debugf("Event stream read error: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if filter != "" && ev.ServiceName != filter {
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debugf("Event stream write error: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
