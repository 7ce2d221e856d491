package server

import (
	"github.com/nats-io/nats.go"

	"github.com/gaspardpetit/gamebridge/internal/channel"
)

// NATSHostID is the context id the host listens on over NATS.
const NATSHostID = "host"

// ServeNATS serves the given guest contexts over nc until the returned stop is called.
func (s *Server) ServeNATS(nc *nats.Conn, guestIDs []string) (stop func()) {
	gs := make([]*guest, 0, len(guestIDs))
	for _, id := range guestIDs {
		link := channel.NewNATSLink(nc, NATSHostID, id)
		gs = append(gs, s.attach(id, TransportNATS, link, link, nil))
	}
	return func() {
		for _, g := range gs {
			g.detach()
		}
	}
}
