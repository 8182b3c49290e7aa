// Package observer serves the read-only HTTP view of an arena, a websocket
// feed of accepted actions, and the loopback-only admin endpoints.
package observer

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"monsterarena.ai/internal/observerproto"
	"monsterarena.ai/internal/protocol"
	"monsterarena.ai/internal/sim/arena"
	"monsterarena.ai/internal/sim/arena/players"
	"monsterarena.ai/internal/sim/arena/spatial"
	"monsterarena.ai/internal/sim/arenaerr"
	"monsterarena.ai/internal/sim/ledger"
)

// Snapshotter writes a snapshot now and reports where.
type Snapshotter func(ctx context.Context) (path string, seq uint64, err error)

type assetReader interface {
	Asset(id ledger.AssetID) (ledger.Asset, bool)
}

type Server struct {
	engine   *arena.Engine
	hub      *Hub
	snapshot Snapshotter
	log      *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(e *arena.Engine, hub *Hub, snap Snapshotter, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		engine:   e,
		hub:      hub,
		snapshot: snap,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Register mounts the read-only routes and the event feed on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/bootstrap", s.handleBootstrap)
	mux.HandleFunc("GET /v1/monsters", s.handleMonsters)
	mux.HandleFunc("GET /v1/boxes/MONSTERS", s.handleMonstersBox)
	mux.HandleFunc("GET /v1/boxes/players/{address}", s.handlePlayerBox)
	mux.HandleFunc("GET /v1/players", s.handlePlayers)
	mux.HandleFunc("GET /v1/players/{address}", s.handlePlayer)
	mux.HandleFunc("GET /v1/assets/{id}", s.handleAsset)
	if s.hub != nil {
		mux.HandleFunc("GET /v1/observe", s.WSHandler())
	}
}

// RegisterAdmin mounts the loopback-only admin routes on mux.
func (s *Server) RegisterAdmin(mux *http.ServeMux) {
	mux.HandleFunc("POST /admin/v1/monsters", loopbackOnly(s.handleSpawn))
	mux.HandleFunc("POST /admin/v1/snapshot", loopbackOnly(s.handleSnapshot))
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "seq": s.engine.Seq()})
}

func (s *Server) handleBootstrap(rw http.ResponseWriter, r *http.Request) {
	cfg := s.engine.Config()
	writeJSON(rw, http.StatusOK, observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		ArenaID:         cfg.ID,
		Seq:             s.engine.Seq(),
		Digest:          s.engine.Digest(),
		ArenaParams:     cfg.Params(),
		Monsters:        s.monsterViews(),
	})
}

func (s *Server) monsterViews() []observerproto.MonsterView {
	list := s.engine.Monsters()
	out := make([]observerproto.MonsterView, 0, len(list))
	for _, m := range list {
		out = append(out, observerproto.MonsterView{Pos: [2]int64{m.Pos.X, m.Pos.Y}, AssetID: uint64(m.Asset)})
	}
	return out
}

func (s *Server) handleMonsters(rw http.ResponseWriter, r *http.Request) {
	views := s.monsterViews()
	writeJSON(rw, http.StatusOK, observerproto.MonstersResponse{Count: len(views), Monsters: views})
}

func (s *Server) handleMonstersBox(rw http.ResponseWriter, r *http.Request) {
	writeBytes(rw, s.engine.MonstersBox())
}

func (s *Server) handlePlayerBox(rw http.ResponseWriter, r *http.Request) {
	b, err := s.engine.PlayerBox(ledger.AccountID(r.PathValue("address")))
	if err != nil {
		writeError(rw, err)
		return
	}
	writeBytes(rw, b)
}

func (s *Server) handlePlayer(rw http.ResponseWriter, r *http.Request) {
	ps, err := s.engine.Player(ledger.AccountID(r.PathValue("address")))
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, ps.View())
}

// handlePlayers lists saved players; only ?saved=1 is supported.
func (s *Server) handlePlayers(rw http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("saved") != "1" {
		writeJSON(rw, http.StatusBadRequest, observerproto.ErrorResponse{Code: protocol.ErrBadRequest, Message: "use ?saved=1"})
		return
	}
	saved := s.engine.SavedPlayers()
	ps := make([]arena.PlayerState, 0, len(saved))
	for _, p := range saved {
		ps = append(ps, arena.PlayerState{Address: p.Address, State: players.Offline, Record: p.Record})
	}
	writeJSON(rw, http.StatusOK, observerproto.PlayersResponse{Players: playerViews(ps)})
}

func (s *Server) handleAsset(rw http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		writeError(rw, arenaerr.New(arenaerr.CodeBadAction, "bad asset id %q", r.PathValue("id")))
		return
	}
	ar, ok := s.engine.Ledger().(assetReader)
	if !ok {
		writeJSON(rw, http.StatusNotImplemented, observerproto.ErrorResponse{Code: protocol.ErrInternal, Message: "ledger does not expose assets"})
		return
	}
	a, ok := ar.Asset(ledger.AssetID(id))
	if !ok {
		writeJSON(rw, http.StatusNotFound, observerproto.ErrorResponse{Code: protocol.ErrNotFound, Message: "unknown asset"})
		return
	}
	writeJSON(rw, http.StatusOK, observerproto.AssetResponse{
		ID:       uint64(a.Params.ID),
		UnitName: a.Params.UnitName,
		Total:    a.Params.Total,
		Manager:  string(a.Params.Manager),
		Freeze:   string(a.Params.Freeze),
		Clawback: string(a.Params.Clawback),
		Reserve:  string(a.Params.Reserve),
		Holder:   string(a.Holder),
	})
}

func (s *Server) handleSpawn(rw http.ResponseWriter, r *http.Request) {
	var req observerproto.SpawnRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(rw, http.StatusBadRequest, observerproto.ErrorResponse{Code: protocol.ErrProtoBadRequest, Message: err.Error()})
		return
	}
	res, err := s.engine.Apply(r.Context(), arena.SpawnMonster{Pos: spatial.Position{X: req.X, Y: req.Y}})
	if err != nil {
		writeError(rw, err)
		return
	}
	s.log.Printf("spawned asset=%d at (%d,%d) seq=%d", res.Asset, req.X, req.Y, res.Seq)
	writeJSON(rw, http.StatusOK, observerproto.SpawnResponse{AssetID: uint64(res.Asset), Seq: res.Seq, Digest: res.Digest})
}

func (s *Server) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	if s.snapshot == nil {
		writeJSON(rw, http.StatusNotImplemented, observerproto.ErrorResponse{Code: protocol.ErrInternal, Message: "snapshots disabled"})
		return
	}
	path, seq, err := s.snapshot(r.Context())
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError, observerproto.ErrorResponse{Code: protocol.ErrInternal, Message: err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, observerproto.SnapshotResponse{Path: path, Seq: seq})
}

// WSHandler streams one EVENT per accepted action after a SUBSCRIBE.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := decodeSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		id, events := s.hub.subscribe(sub.Address, 256)
		defer s.hub.unsubscribe(id)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-events:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if sub, ok := decodeSubscribe(msg); ok {
				s.hub.setFilter(id, sub.Address)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func decodeSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	sub.Address = strings.TrimSpace(sub.Address)
	return sub, true
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func statusFor(err error) int {
	switch arenaerr.KindOf(err) {
	case arenaerr.KindNotFound:
		return http.StatusNotFound
	case arenaerr.KindInvalidState, arenaerr.KindPrecondition:
		return http.StatusConflict
	case arenaerr.KindBadRequest:
		return http.StatusBadRequest
	case arenaerr.KindLedger:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(rw http.ResponseWriter, err error) {
	writeJSON(rw, statusFor(err), observerproto.ErrorResponse{
		Code:    arena.WireCode(err),
		Reason:  string(arenaerr.CodeOf(err)),
		Message: err.Error(),
	})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeBytes(rw http.ResponseWriter, b []byte) {
	rw.Header().Set("Content-Type", "application/octet-stream")
	rw.Header().Set("Content-Length", strconv.Itoa(len(b)))
	_, _ = rw.Write(b)
}
