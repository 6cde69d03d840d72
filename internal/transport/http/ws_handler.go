package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/campuslink/campuslink-server/internal/auth"
	"github.com/campuslink/campuslink-server/internal/core"
	"github.com/campuslink/campuslink-server/internal/proto"
	"github.com/campuslink/campuslink-server/internal/utils"
)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
// Browsers cannot set headers on socket dials, so the token rides in the
// "token" query parameter instead of the Authorization header.
type WSHandler struct {
	hub         *core.Hub
	authService *auth.Service
	msgLimit    int
	log         *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, authService *auth.Service, msgLimit int, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, authService: authService, msgLimit: msgLimit, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	token := r.URL.Query().Get("token")
	if token == "" {
		stdhttp.Error(w, "missing token", stdhttp.StatusUnauthorized)
		return
	}
	claims, err := h.authService.ValidateToken(token)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws token rejected")
		stdhttp.Error(w, "invalid token", stdhttp.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	name := claims.DisplayName
	if name == "" {
		name = claims.Username
	}
	client := core.NewClient(utils.NewConnID(), claims.UserID, name, claims.AvatarURL)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	h.log.Info().
		Str("client_id", client.ID).
		Int64("user_id", claims.UserID).
		Msg("ws connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	limiter := newRateLimiter(h.msgLimit)
	defer limiter.stop()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, limiter)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, limiter *rateLimiter) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		cmd, protoErr, err := inboundToCommand(inbound)
		if err != nil {
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("failed to map inbound")
			return err
		}
		if protoErr == nil && cmd != nil && cmd.Kind == core.CommandSendMessage && !limiter.allow() {
			protoErr = &proto.Error{Code: core.ErrCodeRateLimited, Msg: "message rate limit exceeded"}
			cmd = nil
		}
		if protoErr != nil {
			if writeErr := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  "error",
				Error: protoErr,
			}); writeErr != nil {
				return writeErr
			}
			continue
		}
		if cmd != nil {
			select {
			case client.Commands <- cmd:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
