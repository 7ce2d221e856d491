package legacy

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/gaspardpetit/gamebridge/internal/iface"
	"github.com/gaspardpetit/gamebridge/internal/logx"
	"github.com/gaspardpetit/gamebridge/internal/message"
)

// TicketMemory remembers the last purchased ticket so the next gameStarted
// message can carry its identifiers.
type TicketMemory struct {
	mu   sync.Mutex
	info *iface.TicketInfo
}

// Remember extracts ticket info from a /tickets response body. Bodies without
// both id and externalId are ignored.
func (t *TicketMemory) Remember(body string) {
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return
	}
	id, ext := stringify(data["id"]), stringify(data["externalId"])
	if id == "" || ext == "" {
		return
	}
	logx.Log.Debug().Str("ticket_id", id).Msg("remember ticket info for later")
	t.mu.Lock()
	t.info = &iface.TicketInfo{TicketID: id, ExternalID: ext, TicketNumber: stringify(data["ticketNumber"])}
	t.mu.Unlock()
}

// Enrich copies remembered ticket info into a gameStarted message without
// overwriting members it already has, then forgets the info. It reports
// whether m was changed.
func (t *TicketMemory) Enrich(m *message.Message) bool {
	if m.Type != iface.KindGameStarted {
		return false
	}
	t.mu.Lock()
	info := t.info
	t.info = nil
	t.mu.Unlock()
	if info == nil {
		return false
	}
	changed := false
	for _, f := range []struct{ key, val string }{
		{"ticketId", info.TicketID},
		{"externalId", info.ExternalID},
		{"ticketNumber", info.TicketNumber},
	} {
		if f.val == "" || present(*m, f.key) {
			continue
		}
		if err := m.Set(f.key, f.val); err == nil {
			changed = true
		}
	}
	return changed
}

// present treats explicit nulls like missing members.
func present(m message.Message, key string) bool {
	raw, ok := m.Fields[key]
	return ok && string(raw) != "null"
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return ""
	}
}
