package http

import (
	"encoding/json"

	"github.com/campuslink/campuslink-server/internal/core"
	"github.com/campuslink/campuslink-server/internal/proto"
	"github.com/campuslink/campuslink-server/internal/store"
)

func parseContextField(raw string) (store.ChatContext, *proto.Error) {
	if raw == "" {
		return store.ChatContext{}, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "context is required"}
	}
	chat, err := store.ParseContext(raw)
	if err != nil {
		return store.ChatContext{}, &proto.Error{Code: core.ErrCodeBadRequest, Msg: err.Error()}
	}
	return chat, nil
}

func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeJoin, proto.InboundTypeLeave:
		var join proto.JoinData
		if err := json.Unmarshal(inbound.Data, &join); err != nil {
			return nil, nil, err
		}
		chat, protoErr := parseContextField(join.Context)
		if protoErr != nil {
			return nil, protoErr, nil
		}
		kind := core.CommandJoinContext
		if inbound.Type == proto.InboundTypeLeave {
			kind = core.CommandLeaveContext
		}
		return &core.Command{Kind: kind, Context: chat}, nil, nil

	case proto.InboundTypeMsg:
		var msg proto.MsgData
		if err := json.Unmarshal(inbound.Data, &msg); err != nil {
			return nil, nil, err
		}
		chat, protoErr := parseContextField(msg.Context)
		if protoErr != nil {
			return nil, protoErr, nil
		}
		if msg.Body == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "body is required"}, nil
		}
		kind := store.MessageKind(msg.Kind)
		switch kind {
		case "":
			kind = store.MessageText
		case store.MessageText, store.MessageAudio, store.MessageFile, store.MessageSystem:
		default:
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "unknown message kind"}, nil
		}
		return &core.Command{
			Kind:        core.CommandSendMessage,
			Context:     chat,
			Body:        msg.Body,
			MessageKind: kind,
			Metadata:    msg.Metadata,
			ClientRef:   msg.Ref,
		}, nil, nil

	case proto.InboundTypeRead:
		var read proto.ReadData
		if err := json.Unmarshal(inbound.Data, &read); err != nil {
			return nil, nil, err
		}
		chat, protoErr := parseContextField(read.Context)
		if protoErr != nil {
			return nil, protoErr, nil
		}
		if read.MessageID < 1 {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "message_id is required"}, nil
		}
		return &core.Command{Kind: core.CommandMarkRead, Context: chat, MessageID: read.MessageID}, nil, nil

	case proto.InboundTypeCallStart:
		var start proto.CallStartData
		if err := json.Unmarshal(inbound.Data, &start); err != nil {
			return nil, nil, err
		}
		chat, protoErr := parseContextField(start.Context)
		if protoErr != nil {
			return nil, protoErr, nil
		}
		return &core.Command{Kind: core.CommandStartCall, Context: chat}, nil, nil

	case proto.InboundTypeCallJoin, proto.InboundTypeCallLeave, proto.InboundTypeCallEnd, proto.InboundTypeCallDismiss:
		var sess proto.CallSessionData
		if err := json.Unmarshal(inbound.Data, &sess); err != nil {
			return nil, nil, err
		}
		if sess.SessionID == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "session_id is required"}, nil
		}
		var kind core.CommandKind
		switch inbound.Type {
		case proto.InboundTypeCallJoin:
			kind = core.CommandJoinCall
		case proto.InboundTypeCallLeave:
			kind = core.CommandLeaveCall
		case proto.InboundTypeCallEnd:
			kind = core.CommandEndCall
		default:
			kind = core.CommandDismissCall
		}
		return &core.Command{Kind: kind, SessionID: sess.SessionID}, nil, nil

	default:
		return nil, &proto.Error{Code: "invalid_message", Msg: "unknown message type"}, nil
	}
}

func messageToData(m *core.MessageView) proto.MessageData {
	return proto.MessageData{
		ID:       m.ID,
		Context:  m.Context.Key(),
		UserID:   m.UserID,
		Name:     m.Name,
		Avatar:   m.Avatar,
		Body:     m.Body,
		Kind:     string(m.Kind),
		Metadata: m.Metadata,
		ReadBy:   m.ReadBy,
		TS:       m.CreatedAt.Unix(),
	}
}

func sessionToData(s *core.SessionView) proto.SessionData {
	data := proto.SessionData{
		SessionID:       s.ID,
		Context:         s.Context.Key(),
		InitiatorID:     s.InitiatorID,
		InitiatorName:   s.InitiatorName,
		InitiatorAvatar: s.InitiatorAvatar,
		Status:          string(s.Status),
		StartedAt:       s.StartedAt.Unix(),
	}
	if s.EndedAt != nil {
		endedAt := s.EndedAt.Unix()
		data.EndedAt = &endedAt
	}
	return data
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventPresenceSynced:
		peers := make([]proto.PresenceEntry, 0, len(event.Presence))
		for _, rec := range event.Presence {
			peers = append(peers, proto.PresenceEntry{
				UserID:    rec.UserID,
				Name:      rec.Name,
				Avatar:    rec.Avatar,
				InCall:    rec.InCall,
				SessionID: rec.SessionID,
				LastSeen:  rec.LastSeen.Unix(),
			})
		}
		return proto.Outbound{
			Type:  "event",
			Event: proto.EventNamePresence,
			Data:  proto.PresenceData{Context: event.Context.Key(), Peers: peers},
		}

	case core.EventHistory:
		messages := make([]proto.MessageData, 0, len(event.Messages))
		for i := range event.Messages {
			messages = append(messages, messageToData(&event.Messages[i]))
		}
		return proto.Outbound{
			Type:  "event",
			Event: proto.EventNameHistory,
			Data:  proto.HistoryData{Context: event.Context.Key(), Messages: messages},
		}

	case core.EventMessageInserted:
		return proto.Outbound{
			Type:  "event",
			Event: proto.EventNameMessage,
			Data:  messageToData(event.Message),
		}

	case core.EventMessageAck:
		return proto.Outbound{
			Type:  "event",
			Event: proto.EventNameAck,
			Data: proto.AckData{
				Context: event.Context.Key(),
				Ref:     event.Ack.ClientRef,
				ID:      event.Ack.ID,
				TS:      event.Ack.CreatedAt.Unix(),
			},
		}

	case core.EventSessionCreated:
		return proto.Outbound{
			Type:  "event",
			Event: proto.EventNameCallCreated,
			Data:  sessionToData(event.Session),
		}

	case core.EventSessionUpdated:
		return proto.Outbound{
			Type:  "event",
			Event: proto.EventNameCallUpdated,
			Data:  sessionToData(event.Session),
		}

	case core.EventCallJoined:
		data := proto.CallJoinedData{
			Session: sessionToData(event.Join.Session),
			Resumed: event.Join.Resumed,
		}
		if event.Join.Media != nil {
			data.Media = &proto.MediaData{
				URL:   event.Join.Media.URL,
				Room:  event.Join.Media.RoomName,
				Token: event.Join.Media.Token,
			}
		}
		return proto.Outbound{
			Type:  "event",
			Event: proto.EventNameCallJoined,
			Data:  data,
		}

	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: "error", Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  "error",
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}

	default:
		return proto.Outbound{Type: "event"}
	}
}
