package observer

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"monsterarena.ai/internal/observerproto"
	"monsterarena.ai/internal/protocol"
	"monsterarena.ai/internal/sim/arena"
)

// Hub fans accepted actions out to observer sessions. Publish never blocks;
// slow subscribers lose events.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber

	dropped atomic.Uint64
}

type subscriber struct {
	out     chan []byte
	address string
}

func NewHub() *Hub {
	return &Hub{subs: map[uint64]*subscriber{}}
}

// Publish is meant to run as an engine commit hook.
func (h *Hub) Publish(res arena.Result) {
	ev := observerproto.EventMsg{
		Type:            "EVENT",
		ProtocolVersion: observerproto.Version,
		Seq:             res.Seq,
		Action:          res.Action.Name(),
		Actor:           string(arena.Actor(res.Action)),
		AssetID:         uint64(res.Asset),
		Digest:          res.Digest,
	}
	involved := map[string]bool{ev.Actor: true}
	for _, p := range res.Players {
		ev.Players = append(ev.Players, *p.View())
		involved[string(p.Address)] = true
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.address != "" && !involved[sub.address] {
			continue
		}
		select {
		case sub.out <- b:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) subscribe(address string, buf int) (uint64, <-chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &subscriber{out: make(chan []byte, buf), address: address}
	h.subs[h.nextID] = sub
	return h.nextID, sub.out
}

func (h *Hub) setFilter(id uint64, address string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub := h.subs[id]; sub != nil {
		sub.address = address
	}
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// Dropped counts events lost to full subscriber buffers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func playerViews(ps []arena.PlayerState) []protocol.PlayerView {
	out := make([]protocol.PlayerView, 0, len(ps))
	for _, p := range ps {
		out = append(out, *p.View())
	}
	return out
}
