package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Baaaki/teamchat/internal/feed"
	"github.com/Baaaki/teamchat/internal/realtime"
	"github.com/Baaaki/teamchat/internal/service"
	"github.com/Baaaki/teamchat/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second // Time allowed to write a message to the peer
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // 54 seconds
	maxMessageSize = 512 * 1024          // 512 KB
)

var errInvalidStream = &service.Error{
	Kind:      service.KindValidation,
	Message:   "Invalid stream",
	MessageAr: "مسار البث غير صالح",
}

var errUnknownRequest = &service.Error{
	Kind:      service.KindValidation,
	Message:   "Unknown request type",
	MessageAr: "نوع الطلب غير معروف",
}

// WebSocketServices are the operations reachable over a realtime session.
type WebSocketServices struct {
	Messages      *service.MessageService
	Directs       *service.DirectMessageService
	Presence      *service.PresenceService
	Notifications *service.NotificationService
}

type WebSocketHandler struct {
	hub        *realtime.Hub
	services   WebSocketServices
	maxSession time.Duration
	upgrader   websocket.Upgrader
}

// NewWebSocketHandler serves realtime sessions. Sessions are closed with a
// session_expired frame after maxSession; zero disables the limit.
func NewWebSocketHandler(hub *realtime.Hub, services WebSocketServices, maxSession time.Duration, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:        hub,
		services:   services,
		maxSession: maxSession,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// GET /api/ws
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.FromContext(c.Request.Context()).Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	session := h.hub.Open(ctx, userID)
	log := logger.FromContext(ctx).With(
		zap.String("session_id", session.ID.String()),
		zap.String("user_id", userID.String()),
	)
	log.Info("Client connected")
	connectedAt := time.Now()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(ctx, conn, session, log)
	}()

	h.readPump(ctx, conn, session, log)

	session.Close()
	cancel()
	<-writerDone
	log.Info("Client disconnected", zap.Duration("duration", time.Since(connectedAt).Round(time.Second)))
}

func (h *WebSocketHandler) readPump(ctx context.Context, conn *websocket.Conn, session *realtime.Session, log *zap.Logger) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		h.services.Presence.Heartbeat(ctx, session.UserID)
		h.hub.Touch(ctx, session)
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("Websocket read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var req realtime.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			session.Send(realtime.Failed("", string(errInvalidBody.Kind), errInvalidBody.Message, errInvalidBody.MessageAr))
			continue
		}
		if !session.Send(h.dispatch(ctx, session, req)) {
			return
		}
	}
}

// writePump is the only goroutine writing data frames to conn.
func (h *WebSocketHandler) writePump(ctx context.Context, conn *websocket.Conn, session *realtime.Session, log *zap.Logger) {
	defer conn.Close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	var expired <-chan time.Time
	if h.maxSession > 0 {
		timer := time.NewTimer(h.maxSession)
		defer timer.Stop()
		expired = timer.C
	}

	frames := make(chan realtime.Response)
	go func() {
		defer close(frames)
		for {
			resp, ok := session.Next(ctx)
			if !ok {
				return
			}
			select {
			case frames <- resp:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case resp, ok := <-frames:
			if !ok {
				return
			}
			if err := writeFrame(conn, resp); err != nil {
				log.Debug("Websocket write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug("Ping failed", zap.Error(err))
				return
			}

		case <-expired:
			log.Info("Session expired", zap.Duration("max_session", h.maxSession))
			_ = writeFrame(conn, realtime.Response{
				Type:    realtime.ResponseSessionExpired,
				Message: "Session expired, reconnect to continue",
			})
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session expired"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, resp realtime.Response) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(resp)
}

// dispatch runs one request and builds its ack.
func (h *WebSocketHandler) dispatch(ctx context.Context, session *realtime.Session, req realtime.Request) realtime.Response {
	data, err := h.handle(ctx, session, req)
	if err != nil {
		e := service.AsError(err)
		if e.Kind == service.KindTransient {
			logger.FromContext(ctx).Warn("Realtime request failed",
				zap.String("type", string(req.Type)),
				zap.String("request_id", req.RequestID),
				zap.Error(err),
			)
		}
		return realtime.Failed(req.RequestID, string(e.Kind), e.Message, e.MessageAr)
	}

	resp, err := realtime.Confirmed(req.RequestID, data)
	if err != nil {
		return realtime.Failed(req.RequestID, string(service.RetryPrompt.Kind), service.RetryPrompt.Message, service.RetryPrompt.MessageAr)
	}
	return resp
}

type idContent struct {
	ID      uuid.UUID `json:"id"`
	Content string    `json:"content"`
}

func (h *WebSocketHandler) handle(ctx context.Context, session *realtime.Session, req realtime.Request) (any, error) {
	userID := session.UserID

	switch req.Type {
	case realtime.RequestSubscribe:
		sub, created, err := session.Subscribe(ctx, req.Stream)
		if errors.Is(err, feed.ErrInvalidStreamKey) {
			return nil, errInvalidStream
		}
		if err != nil {
			return nil, err
		}
		if !created {
			session.Send(realtime.Response{
				Type:      realtime.ResponseWarning,
				RequestID: req.RequestID,
				Stream:    sub.Key(),
				Message:   "Already subscribed",
			})
		}
		return gin.H{"stream": sub.Key(), "created": created}, nil

	case realtime.RequestUnsubscribe:
		return gin.H{"stream": req.Stream, "removed": session.Unsubscribe(req.Stream)}, nil

	case realtime.RequestSendMessage:
		var in service.SendMessageInput
		if err := decodeData(req.Data, &in); err != nil {
			return nil, err
		}
		in.AuthorID = userID
		return h.services.Messages.Send(ctx, in)

	case realtime.RequestEditMessage:
		var in idContent
		if err := decodeData(req.Data, &in); err != nil {
			return nil, err
		}
		return h.services.Messages.Edit(ctx, userID, in.ID, in.Content)

	case realtime.RequestDeleteMessage:
		var in idContent
		if err := decodeData(req.Data, &in); err != nil {
			return nil, err
		}
		return nil, h.services.Messages.Delete(ctx, userID, in.ID)

	case realtime.RequestSendDirect:
		var in service.SendDirectInput
		if err := decodeData(req.Data, &in); err != nil {
			return nil, err
		}
		in.FromUserID = userID
		return h.services.Directs.Send(ctx, in)

	case realtime.RequestEditDirect:
		var in idContent
		if err := decodeData(req.Data, &in); err != nil {
			return nil, err
		}
		return h.services.Directs.Edit(ctx, userID, in.ID, in.Content)

	case realtime.RequestDeleteDirect:
		var in idContent
		if err := decodeData(req.Data, &in); err != nil {
			return nil, err
		}
		return nil, h.services.Directs.Delete(ctx, userID, in.ID)

	case realtime.RequestMarkDirectRead:
		var in idContent
		if err := decodeData(req.Data, &in); err != nil {
			return nil, err
		}
		return nil, h.services.Directs.MarkRead(ctx, userID, in.ID)

	case realtime.RequestSetStatus:
		var in service.SetStatusInput
		if err := decodeData(req.Data, &in); err != nil {
			return nil, err
		}
		return h.services.Presence.SetStatus(ctx, userID, in)

	case realtime.RequestHeartbeat:
		h.services.Presence.Heartbeat(ctx, userID)
		h.hub.Touch(ctx, session)
		return nil, nil

	case realtime.RequestMarkRead:
		var in idContent
		if err := decodeData(req.Data, &in); err != nil {
			return nil, err
		}
		changed, err := h.services.Notifications.MarkRead(ctx, userID, in.ID)
		if err != nil {
			return nil, err
		}
		return gin.H{"changed": changed}, nil

	case realtime.RequestMarkAllRead:
		n, err := h.services.Notifications.MarkAllRead(ctx, userID)
		if err != nil {
			return nil, err
		}
		return gin.H{"updated": n}, nil

	default:
		return nil, errUnknownRequest
	}
}

func decodeData(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errInvalidBody
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errInvalidBody
	}
	return nil
}
