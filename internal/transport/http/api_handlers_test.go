package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/campuslink/campuslink-server/internal/store"
)

func TestRegisterAndLogin(t *testing.T) {
	ts, _, _ := startTestServer(t)

	// Register a user.
	body := bytes.NewBufferString(`{"username":"alice","display_name":"Alice A","password":"password123"}`)
	resp, err := ts.Client().Post(ts.URL+"/api/register", "application/json", body)
	if err != nil {
		t.Fatalf("register request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var authResp AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if authResp.Token == "" {
		t.Fatal("empty token in register response")
	}

	// Duplicate registration conflicts.
	body = bytes.NewBufferString(`{"username":"alice","password":"password123"}`)
	resp2, err := ts.Client().Post(ts.URL+"/api/register", "application/json", body)
	if err != nil {
		t.Fatalf("duplicate register request failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp2.StatusCode)
	}

	// Login with the right password succeeds.
	body = bytes.NewBufferString(`{"username":"alice","password":"password123"}`)
	resp3, err := ts.Client().Post(ts.URL+"/api/login", "application/json", body)
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp3.StatusCode)
	}

	// Wrong password is rejected.
	body = bytes.NewBufferString(`{"username":"alice","password":"wrong-password"}`)
	resp4, err := ts.Client().Post(ts.URL+"/api/login", "application/json", body)
	if err != nil {
		t.Fatalf("bad login request failed: %v", err)
	}
	defer resp4.Body.Close()
	if resp4.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp4.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _, _ := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func authedGet(t *testing.T, ts *httptest.Server, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestMessageHistoryEndpoint(t *testing.T) {
	ts, st, authService := startTestServer(t)

	token, err := authService.Register(context.Background(), "alice", "Alice A", "", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// Without a token the endpoint is closed.
	resp := authedGet(t, ts, ts.URL+"/api/contexts/cluster/1/messages", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	// Seed a message and read it back through the API.
	u, err := st.GetUserByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("lookup user: %v", err)
	}
	msg := &store.ChatMessage{
		Context:   store.ChatContext{Kind: store.ContextCluster, ID: 1},
		UserID:    u.ID,
		Body:      "hello",
		Kind:      store.MessageText,
		CreatedAt: time.Now().UTC(),
	}
	if err := st.SaveMessage(context.Background(), msg); err != nil {
		t.Fatalf("save message: %v", err)
	}

	resp = authedGet(t, ts, ts.URL+"/api/contexts/cluster/1/messages", token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var listResp struct {
		Context  string            `json:"context"`
		Messages []MessageResponse `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if listResp.Context != "cluster:1" || len(listResp.Messages) != 1 {
		t.Fatalf("unexpected listing: %+v", listResp)
	}
	if listResp.Messages[0].Name != "Alice A" || listResp.Messages[0].Body != "hello" {
		t.Fatalf("unexpected message: %+v", listResp.Messages[0])
	}

	// Unknown kinds are rejected at the boundary.
	resp2 := authedGet(t, ts, ts.URL+"/api/contexts/dorm/1/messages", token)
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d", resp2.StatusCode)
	}
}
