package proxy

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gaspardpetit/gamebridge/internal/channel"
	"github.com/gaspardpetit/gamebridge/internal/message"
)

// chain builds host <-> wrapper <-> game and relays inside wrapper.
func chain(t *testing.T) (hostEP, gameEP *channel.Endpoint, stop func()) {
	t.Helper()
	host := channel.NewContext("host")
	wrapper := channel.NewContext("wrapper")
	game := channel.NewContext("game")
	t.Cleanup(func() {
		host.Close()
		wrapper.Close()
		game.Close()
	})
	hostEP, wrapperUp := channel.Pair(host, wrapper)
	wrapperDown, gameEP := channel.Pair(wrapper, game)
	return hostEP, gameEP, Relay(wrapperUp, wrapperDown)
}

func collect(ep *channel.Endpoint) <-chan message.Message {
	ch := make(chan message.Message, 8)
	ep.RegisterAll(func(m message.Message) { ch <- m })
	return ch
}

func next(t *testing.T, ch <-chan message.Message) message.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(time.Second):
		t.Fatalf("timeout")
	}
	return message.Message{}
}

func none(t *testing.T, ch <-chan message.Message) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("unexpected %q", m.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRelayForwardsUnmodifiedWithoutEcho(t *testing.T) {
	hostEP, gameEP, _ := chain(t)
	atHost := collect(hostEP)
	atGame := collect(gameEP)

	up := message.MustNew("updateGameHeight", "height", 120)
	_ = up.Set("extra", map[string]any{"nested": []int{1, 2}})
	gameEP.Send(up)
	got := next(t, atHost)
	want, _ := json.Marshal(up)
	have, _ := json.Marshal(got)
	if string(want) != string(have) {
		t.Fatalf("modified in transit: %s != %s", have, want)
	}
	none(t, atGame)

	hostEP.Send(message.MustNew("playGame", "", nil))
	if m := next(t, atGame); m.Type != "playGame" {
		t.Fatalf("game got %q", m.Type)
	}
	none(t, atHost)
}

func TestRelayStop(t *testing.T) {
	hostEP, gameEP, stop := chain(t)
	atHost := collect(hostEP)
	stop()
	stop()
	gameEP.Send(message.MustNew("gameLoaded", "", nil))
	none(t, atHost)
}
