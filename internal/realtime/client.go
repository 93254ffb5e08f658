package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/learnsphere/backend/internal/polling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Client -> server event names of the live polling protocol.
const (
	eventConferenceJoin   = "conference:join"
	eventConferenceLeave  = "conference:leave"
	eventQuestionPushLive = "question:push_live"
	eventQuestionClose    = "question:close"
	eventVoteSubmit       = "vote:submit"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client represents a single WebSocket connection. One connection may join
// several conference rooms.
type Client struct {
	ID     string
	UserID uuid.UUID

	hub    *Hub
	svc    *polling.Service
	conn   *websocket.Conn
	send   chan WSMessage
	logger *zap.Logger

	mu    sync.Mutex
	rooms map[uuid.UUID]string // conferenceID -> protocol role
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, svc *polling.Service, logger *zap.Logger, jwtValidate func(token string) (userID string, err error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		userIDStr, err := jwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:     uuid.New().String(),
			UserID: userID,
			hub:    hub,
			svc:    svc,
			conn:   conn,
			send:   make(chan WSMessage, 256),
			logger: logger,
			rooms:  make(map[uuid.UUID]string),
		}
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) setRole(conferenceID uuid.UUID, role string) {
	c.mu.Lock()
	c.rooms[conferenceID] = role
	c.mu.Unlock()
}

func (c *Client) clearRole(conferenceID uuid.UUID) {
	c.mu.Lock()
	delete(c.rooms, conferenceID)
	c.mu.Unlock()
}

func (c *Client) roleIn(conferenceID uuid.UUID) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[conferenceID]
}

func (c *Client) joinedConferences() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uuid.UUID, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		c.svc.Disconnect(ctx, c.UserID)
		cancel()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.dispatch(msg)
	}
}

// dispatch routes one client message. All failures are converted to an
// error or vote:rejected emission to this connection only; nothing crashes
// the connection.
func (c *Client) dispatch(msg WSMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch msg.Event {
	case eventConferenceJoin:
		var req struct {
			ConferenceID uuid.UUID `json:"conferenceId"`
		}
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.ConferenceID == uuid.Nil {
			c.replyError(&polling.Error{Code: polling.CodeInvalidRequest, Message: "conferenceId required"})
			return
		}
		info, err := c.svc.Join(ctx, req.ConferenceID, c.UserID)
		if err != nil {
			c.replyError(err)
			return
		}
		c.hub.Join(c, req.ConferenceID, info.Role)
		c.reply(polling.EventConferenceJoined, info)

	case eventConferenceLeave:
		var req struct {
			ConferenceID uuid.UUID `json:"conferenceId"`
		}
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.ConferenceID == uuid.Nil {
			c.replyError(&polling.Error{Code: polling.CodeInvalidRequest, Message: "conferenceId required"})
			return
		}
		left, err := c.svc.Leave(ctx, req.ConferenceID, c.UserID)
		if err != nil {
			c.replyError(err)
			return
		}
		c.hub.Leave(c, req.ConferenceID)
		c.reply(polling.EventConferenceLeft, left)

	case eventQuestionPushLive:
		var req struct {
			ConferenceID uuid.UUID `json:"conferenceId"`
			QuestionID   uuid.UUID `json:"questionId"`
			Duration     int       `json:"duration"`
		}
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.ConferenceID == uuid.Nil || req.QuestionID == uuid.Nil {
			c.replyError(&polling.Error{Code: polling.CodeInvalidRequest, Message: "conferenceId and questionId required"})
			return
		}
		if _, err := c.svc.PushLive(ctx, req.ConferenceID, req.QuestionID, c.UserID, req.Duration); err != nil {
			c.replyError(err)
		}

	case eventQuestionClose:
		var req struct {
			ConferenceID uuid.UUID `json:"conferenceId"`
			QuestionID   uuid.UUID `json:"questionId"`
		}
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.ConferenceID == uuid.Nil || req.QuestionID == uuid.Nil {
			c.replyError(&polling.Error{Code: polling.CodeInvalidRequest, Message: "conferenceId and questionId required"})
			return
		}
		if err := c.svc.CloseQuestion(ctx, req.ConferenceID, req.QuestionID, c.UserID); err != nil {
			c.replyError(err)
		}

	case eventVoteSubmit:
		var req struct {
			ConferenceID   uuid.UUID `json:"conferenceId"`
			QuestionID     uuid.UUID `json:"questionId"`
			SelectedOption string    `json:"selectedOption"`
		}
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.ConferenceID == uuid.Nil || req.QuestionID == uuid.Nil || req.SelectedOption == "" {
			c.rejectVote(req.ConferenceID, req.QuestionID, polling.RejectInvalidRequest)
			return
		}
		accepted, err := c.svc.SubmitVote(ctx, req.ConferenceID, req.QuestionID, c.UserID, req.SelectedOption)
		if err != nil {
			var voteErr *polling.VoteError
			if errors.As(err, &voteErr) {
				c.rejectVote(req.ConferenceID, req.QuestionID, voteErr.Reason)
			} else {
				c.logger.Error("vote submit failed", zap.Error(err), zap.String("question_id", req.QuestionID.String()))
				c.rejectVote(req.ConferenceID, req.QuestionID, polling.RejectInternalError)
			}
			return
		}
		c.reply(polling.EventVoteAccepted, accepted)

	default:
		// ignore
	}
}

// reply sends an event to this connection only.
func (c *Client) reply(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case c.send <- WSMessage{Event: event, Data: data}:
	default:
	}
}

func (c *Client) rejectVote(conferenceID, questionID uuid.UUID, reason string) {
	c.reply(polling.EventVoteRejected, polling.VoteRejectedPayload{
		ConferenceID: conferenceID,
		QuestionID:   questionID,
		Reason:       reason,
		Timestamp:    time.Now(),
	})
}

// replyError converts a failure into an error event for this connection.
func (c *Client) replyError(err error) {
	code := polling.CodeInternalError
	message := "internal error"

	var protoErr *polling.Error
	var conflictErr *polling.ConflictError
	switch {
	case errors.As(err, &protoErr):
		code = protoErr.Code
		message = protoErr.Message
	case errors.As(err, &conflictErr):
		code = conflictErr.Code()
		message = conflictErr.Error()
	default:
		c.logger.Error("request failed", zap.Error(err), zap.String("client_id", c.ID))
	}

	c.reply(polling.EventError, polling.ErrorPayload{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
