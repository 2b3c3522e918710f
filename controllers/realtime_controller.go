package controllers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kafuffle/kafuffle-api/config"
	"github.com/kafuffle/kafuffle-api/services"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = (feedPongWait * 9) / 10
	feedBufferSize = 64
	feedReadLimit  = 4096
)

// newFeedUpgrader creates a WebSocket upgrader with the given allowed origins.
// Requests without an Origin header come from non-browser clients and are accepted.
func newFeedUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		},
	}
}

// ChannelFeed handles GET /api/v1/channels/:id/ws - streams the channel's
// message events to a member over a websocket
func ChannelFeed(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	channelID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	if _, _, err := spaceService().ChannelActor(c.Request.Context(), user.ID, channelID); err != nil {
		respondError(c, err)
		return
	}

	var allowedOrigins []string
	if cfg := config.GetConfig(); cfg != nil {
		allowedOrigins = cfg.AllowedOrigins
	}
	upgrader := newFeedUpgrader(allowedOrigins)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	hub := services.GetHub()
	events := hub.Subscribe(channelID, user.ID, feedBufferSize)
	defer hub.Unsubscribe(channelID, events)

	log.Printf("User %d subscribed to channel %d (%d subscribers)", user.ID, channelID, hub.SubscriberCount(channelID))

	closed := make(chan struct{})
	go readFeed(conn, closed)

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Printf("User %d left channel %d feed", user.ID, channelID)
			return
		case evt, ok := <-events:
			if !ok {
				// Subscription revoked: the user is no longer a member.
				log.Printf("User %d lost access to channel %d feed", user.ID, channelID)
				closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "membership revoked")
				_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(feedWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				log.Printf("Failed to write event to user %d: %v", user.ID, err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readFeed drains client frames so control messages are processed. Clients
// send nothing meaningful; a read error means the connection is gone.
func readFeed(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(feedReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
