package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"

	"github.com/rickgao/msgrouter/internal/message"
)

// echoServer upgrades every request and runs a Conn that sends each message
// straight back. Finished connections are reported on done.
func echoServer(t *testing.T, done chan<- *Conn) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		h := HandlerFuncs{
			OnMessage: func(c *Conn, m message.Message) { c.Send(m) },
		}
		c := NewConn(NewWebSocket(ws, DefaultWebSocketConfig(), nil), h, DefaultConfig(), nil)
		c.Start(context.Background())
		<-c.Done()
		done <- c
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocket_RoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	serverDone := make(chan *Conn, 1)
	server := echoServer(t, serverDone)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	socket, err := Dial(ctx, wsURL(server), nil, DefaultWebSocketConfig(), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	got := make(chan message.Message, 4)
	client := NewConn(socket, HandlerFuncs{
		OnMessage: func(_ *Conn, m message.Message) { got <- m },
	}, DefaultConfig(), nil)
	client.Start(context.Background())

	payload := message.BufferFromString(`{"price":"1.25","note":"tab\there"}`)
	client.Send(&message.Topic{Topic: "prices", Payload: payload, SourceID: "me"})

	select {
	case m := <-got:
		topic, ok := m.(*message.Topic)
		if !ok {
			t.Fatalf("echo = %T, want *message.Topic", m)
		}
		if !topic.Payload.Equal(payload) || topic.SourceID != "me" {
			t.Errorf("echo = %+v", topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for echo")
	}

	client.Close()
	waitDone(t, client)

	select {
	case c := <-serverDone:
		if c.Stats().MessagesIn != 1 {
			t.Errorf("server MessagesIn = %d, want 1", c.Stats().MessagesIn)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server side did not observe close")
	}
}

func TestWebSocket_KeepaliveFailsSilentPeer(t *testing.T) {
	defer goleak.VerifyNone(t)

	// The peer reads nothing, so our pings are never answered.
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		<-release
		ws.Close()
	}))
	defer server.Close()
	defer close(release)

	cfg := WebSocketConfig{
		WriteTimeout: time.Second,
		PongWait:     100 * time.Millisecond,
		PingPeriod:   50 * time.Millisecond,
	}
	socket, err := Dial(context.Background(), wsURL(server), nil, cfg, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	c := NewConn(socket, nil, DefaultConfig(), nil)
	c.Start(context.Background())
	waitDone(t, c)
}

func TestIsNormalClose(t *testing.T) {
	if !IsNormalClose(nil) {
		t.Error("IsNormalClose(nil) = false")
	}
	if !IsNormalClose(&websocket.CloseError{Code: websocket.CloseNormalClosure}) {
		t.Error("normal closure not treated as normal")
	}
	if IsNormalClose(&websocket.CloseError{Code: websocket.CloseProtocolError}) {
		t.Error("protocol error treated as normal")
	}
}
