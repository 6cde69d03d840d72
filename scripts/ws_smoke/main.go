// Command ws_smoke logs in, joins a context over WebSocket, sends one
// message, and waits for the ack. Useful for checking a running server
// end to end without a frontend.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/campuslink/campuslink-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	api := flag.String("api", "http://localhost:8080", "HTTP API base URL")
	wsAddr := flag.String("ws", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "", "username to log in with (empty for guest)")
	password := flag.String("password", "", "password for the user")
	chatContext := flag.String("context", "cluster:1", "context to join, kind:id")
	text := flag.String("text", "hello from smoke test", "message body to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	token, err := obtainToken(ctx, *api, *user, *password)
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, *wsAddr+"?token="+token, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(msgType string, data any) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", msgType, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: msgType, Data: payload}); err != nil {
			return fmt.Errorf("send %s: %w", msgType, err)
		}
		return nil
	}

	if err := send(proto.InboundTypeJoin, proto.JoinData{Context: *chatContext}); err != nil {
		return err
	}
	if err := send(proto.InboundTypeMsg, proto.MsgData{Context: *chatContext, Body: *text, Ref: "smoke-1"}); err != nil {
		return err
	}

	for {
		var outbound proto.Outbound
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if outbound.Error != nil {
			return fmt.Errorf("server error: %s: %s", outbound.Error.Code, outbound.Error.Msg)
		}

		fmt.Printf("event=%s\n", outbound.Event)

		if outbound.Event != proto.EventNameAck {
			continue
		}

		raw, err := json.Marshal(outbound.Data)
		if err != nil {
			return fmt.Errorf("marshal ack data: %w", err)
		}
		var ack proto.AckData
		if err := json.Unmarshal(raw, &ack); err != nil {
			return fmt.Errorf("unmarshal ack: %w", err)
		}
		fmt.Printf("ack: context=%s ref=%s id=%d ts=%d\n", ack.Context, ack.Ref, ack.ID, ack.TS)
		return nil
	}
}

// obtainToken logs in with the given credentials, or creates a guest
// session when no username is supplied.
func obtainToken(ctx context.Context, api, user, password string) (string, error) {
	endpoint := api + "/api/guest"
	var body []byte
	if user != "" {
		endpoint = api + "/api/login"
		var err error
		body, err = json.Marshal(map[string]string{"username": user, "password": password})
		if err != nil {
			return "", fmt.Errorf("marshal login: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth request: status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("auth response missing token")
	}
	return out.Token, nil
}
