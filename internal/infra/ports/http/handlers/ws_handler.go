package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/mentorloop/meetroom/internal/application/config"
	"github.com/mentorloop/meetroom/internal/application/constant"
	"github.com/mentorloop/meetroom/internal/domain/events"
	"github.com/mentorloop/meetroom/internal/infra/adapters/memory"
	"github.com/mentorloop/meetroom/internal/usecase"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

type WebSocketHandler struct {
	upgrader *websocket.Upgrader

	relayUsecase usecase.RelayUsecase

	connRepo memory.ConnectionRepository
}

func NewWebSocketHandler(cfg *config.Config, relayUsecase usecase.RelayUsecase, connRepo memory.ConnectionRepository) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.Debug {
					return true
				}

				return r.Header.Get("Origin") == cfg.Domain
			},
		},
		relayUsecase: relayUsecase,
		connRepo:     connRepo,
	}
}

func (h *WebSocketHandler) Handle(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"websocket upgrade",
			slog.Any(constant.Error, err),
		)
		return err
	}
	defer ws.Close()

	socketID := uuid.NewString()

	h.connRepo.Add(socketID, ws)
	defer h.connRepo.Remove(socketID)

	// The client learns its connection id from the first event.
	connected, err := events.NewMessage(events.Connected, events.ConnectedEvent{SocketID: socketID})
	if err != nil {
		return err
	}
	h.connRepo.Write(socketID, connected)

	if err = ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-c.Request().Context().Done():
				return
			}
		}
	}()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		default:
			_, raw, err := ws.ReadMessage()
			if err != nil {
				h.handleWebsocketError(socketID, err)

				if err = h.relayUsecase.HandleLeave(c.Request().Context(), socketID); err != nil {
					slog.Error(
						"handle leave while reading websocket message",
						slog.Any(constant.Error, err),
						slog.String(constant.SocketID, socketID),
					)
				}

				return nil
			}

			msg := new(events.Message)

			if err = json.Unmarshal(raw, msg); err != nil {
				slog.Error("unmarshal websocket message", slog.Any(constant.Error, err))

				continue
			}

			if err = h.handleMessage(c.Request().Context(), socketID, msg); err != nil {
				slog.Error(
					"handle message",
					slog.Any(constant.Error, err),
					slog.String(constant.Event, msg.Type),
					slog.String(constant.SocketID, socketID),
				)
			}
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, socketID string, msg *events.Message) error {
	switch msg.Type {
	case events.JoinRoom:
		var ev events.JoinRoomEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return fmtUnmarshal(msg.Type, err)
		}
		return h.relayUsecase.HandleJoinRoom(ctx, socketID, ev)

	case events.RequestJoin:
		var ev events.RequestJoinEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return fmtUnmarshal(msg.Type, err)
		}
		return h.relayUsecase.HandleRequestJoin(ctx, socketID, ev)

	case events.AdmitUser:
		var ev events.AdmitUserEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return fmtUnmarshal(msg.Type, err)
		}
		return h.relayUsecase.HandleAdmitUser(ctx, socketID, ev)

	case events.DenyUser:
		var ev events.DenyUserEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return fmtUnmarshal(msg.Type, err)
		}
		return h.relayUsecase.HandleDenyUser(ctx, socketID, ev)

	case events.Offer:
		var ev events.OfferEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return fmtUnmarshal(msg.Type, err)
		}
		return h.relayUsecase.HandleOffer(ctx, socketID, ev)

	case events.Answer:
		var ev events.AnswerEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return fmtUnmarshal(msg.Type, err)
		}
		return h.relayUsecase.HandleAnswer(ctx, socketID, ev)

	case events.IceCandidate:
		var ev events.IceCandidateEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return fmtUnmarshal(msg.Type, err)
		}
		return h.relayUsecase.HandleCandidate(ctx, socketID, ev)

	case events.SendMessage:
		var ev events.SendMessageEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return fmtUnmarshal(msg.Type, err)
		}
		return h.relayUsecase.HandleSendMessage(ctx, socketID, ev)

	case events.LeaveRoom:
		return h.relayUsecase.HandleLeave(ctx, socketID)

	default:
		return errors.New("unknown message type")
	}
}

func fmtUnmarshal(eventType string, err error) error {
	return fmt.Errorf("unmarshal %s event: %w", eventType, err)
}

func (h *WebSocketHandler) handleWebsocketError(socketID string, err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			slog.Info("participant disconnected from websocket", slog.String(constant.SocketID, socketID))
		default:
			slog.Error("websocket close error", slog.Any(constant.Error, err))
		}
	} else {
		slog.Error(
			"websocket read",
			slog.Any(constant.Error, err),
		)
	}
}
