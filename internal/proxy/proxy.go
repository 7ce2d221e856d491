// Package proxy chains two endpoints so a middle context can forward
// traffic between its parent and the guest it embeds.
package proxy

import (
	"github.com/gaspardpetit/gamebridge/internal/channel"
	"github.com/gaspardpetit/gamebridge/internal/logx"
	"github.com/gaspardpetit/gamebridge/internal/message"
)

// Relay forwards every message dispatched on a to b and every message
// dispatched on b to a, unmodified. The returned function stops both directions.
func Relay(a, b *channel.Endpoint) (stop func()) {
	unA := a.RegisterAll(func(m message.Message) {
		logx.Log.Debug().Str("type", m.Type).Str("from", a.Peer()).Str("to", b.Peer()).Msg("relay")
		b.Send(m)
	})
	unB := b.RegisterAll(func(m message.Message) {
		logx.Log.Debug().Str("type", m.Type).Str("from", b.Peer()).Str("to", a.Peer()).Msg("relay")
		a.Send(m)
	})
	return func() {
		unA()
		unB()
	}
}
