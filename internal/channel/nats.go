package channel

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gaspardpetit/gamebridge/internal/logx"
)

// SourceHeader carries the id of the posting context on NATS messages.
const SourceHeader = "Gamebridge-Source"

// Subject returns the NATS subject a context listens on.
func Subject(id string) string { return "gamebridge.ctx." + id }

// NATSLink carries one context pair over NATS subjects.
type NATSLink struct {
	nc       *nats.Conn
	localID  string
	remoteID string
}

// NewNATSLink binds localID to remoteID over nc.
func NewNATSLink(nc *nats.Conn, localID, remoteID string) *NATSLink {
	return &NATSLink{nc: nc, localID: localID, remoteID: remoteID}
}

// ConnectNATS opens a NATS connection with reconnect handling logged through logx.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logx.Log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logx.Log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
}

// ID implements Target.
func (l *NATSLink) ID() string { return l.remoteID }

// Post implements Target.
func (l *NATSLink) Post(_ context.Context, data []byte) error {
	msg := nats.NewMsg(Subject(l.remoteID))
	msg.Header.Set(SourceHeader, l.localID)
	msg.Data = data
	return l.nc.PublishMsg(msg)
}

// Subscribe implements Inbox.
func (l *NATSLink) Subscribe(fn func(Event)) func() {
	sub, err := l.nc.Subscribe(Subject(l.localID), func(m *nats.Msg) {
		fn(Event{Source: m.Header.Get(SourceHeader), Data: m.Data})
	})
	if err != nil {
		logx.Log.Error().Err(err).Str("subject", Subject(l.localID)).Msg("nats subscribe")
		return func() {}
	}
	// make sure the server knows about the interest before anything is posted
	if err := l.nc.Flush(); err != nil {
		logx.Log.Warn().Err(err).Msg("nats flush")
	}
	return func() { _ = sub.Unsubscribe() }
}
