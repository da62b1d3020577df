package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/telemetry"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type stateMessage struct {
	State     models.InteractionState `json:"state"`
	Timestamp time.Time               `json:"timestamp"`
}

// StreamState pushes every interaction state change to a kiosk UI over a
// WebSocket, starting with the current state.
func (h *TerminalHandler) StreamState(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		telemetry.Logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Listeners must not block the state machine; slow clients drop states.
	send := make(chan models.InteractionState, 32)
	unsubscribe := h.terminal.Subscribe(func(s models.InteractionState) {
		select {
		case send <- s:
		default:
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(s models.InteractionState) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(stateMessage{State: s, Timestamp: time.Now().UTC()}) == nil
	}

	if !write(h.terminal.CurrentState()) {
		return
	}
	for {
		select {
		case s := <-send:
			if !write(s) {
				return
			}
		case <-closed:
			return
		}
	}
}
