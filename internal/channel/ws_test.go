package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/gamebridge/internal/message"
)

func TestWebSocketTransport(t *testing.T) {
	hostSide := make(chan *WSConn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ws := NewWSConn(c, "host", "guest-1")
		hostSide <- ws
		<-ws.Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	guestWS, err := DialWS(ctx, url, "guest-1", "host")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer guestWS.Close()
	hostWS := <-hostSide

	hostEP := NewEndpoint(hostWS, hostWS)
	guestEP := NewEndpoint(guestWS, guestWS)

	up := make(chan message.Message, 1)
	down := make(chan message.Message, 1)
	hostEP.Register("updateGameHeight", func(m message.Message) { up <- m })
	guestEP.Register("playGame", func(m message.Message) { down <- m })

	guestEP.Send(message.MustNew("updateGameHeight", "height", 42))
	hostEP.Send(message.MustNew("playGame", "", nil))
	if m := recv(t, up); m.Type != "updateGameHeight" {
		t.Fatalf("host got %q", m.Type)
	}
	if m := recv(t, down); m.Type != "playGame" {
		t.Fatalf("guest got %q", m.Type)
	}

	if err := guestWS.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-hostWS.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("host side did not observe close")
	}
	if err := hostWS.Post(context.Background(), []byte(`{"type":"x"}`)); err != ErrClosed {
		t.Fatalf("post after close: %v", err)
	}
	// sending on a dead connection is logged and dropped
	hostEP.Send(message.MustNew("playGame", "", nil))
}
