// Package ws serves the player protocol: HELLO/WELCOME, then ACT/RESULT
// pairs. The actor of every ACT is the address bound to the session.
package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"monsterarena.ai/internal/protocol"
	"monsterarena.ai/internal/sim/arena"
	"monsterarena.ai/internal/sim/ledger"
)

type Options struct {
	// ActionsPerSec <= 0 disables rate limiting.
	ActionsPerSec float64
	Burst         int
	// MaxSessions <= 0 means unlimited.
	MaxSessions int
}

type Server struct {
	engine    *arena.Engine
	validator *protocol.Validator
	opts      Options
	log       *log.Logger

	sessions atomic.Int64
	upgrader websocket.Upgrader
}

func NewServer(e *arena.Engine, v *protocol.Validator, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		engine:    e,
		validator: v,
		opts:      opts,
		log:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

type session struct {
	id      string
	address ledger.AccountID
	limiter *rate.Limiter
}

// Sessions reports the number of connected websocket sessions.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.opts.MaxSessions > 0 && s.sessions.Load() >= int64(s.opts.MaxSessions) {
			http.Error(rw, "too many sessions", http.StatusServiceUnavailable)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.sessions.Add(1)
		defer s.sessions.Add(-1)

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		s.log.Printf("session %s bound to %s", sess.id, sess.address)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, 16)
		done := make(chan struct{})

		// Writer goroutine.
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			reply := s.handleAct(ctx, sess, msg)
			b, err := json.Marshal(reply)
			if err != nil {
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		<-done
		s.log.Printf("session %s closed", sess.id)
	}
}

func (s *Server) handleAct(ctx context.Context, sess *session, msg []byte) protocol.ResultMsg {
	reject := func(id, code, message string) protocol.ResultMsg {
		return protocol.ResultMsg{
			Type:            protocol.TypeResult,
			ProtocolVersion: protocol.Version,
			ID:              id,
			Code:            code,
			Message:         message,
		}
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeAct {
		return reject("", protocol.ErrProtoBadRequest, "expected ACT")
	}
	var act protocol.ActMsg
	if err := json.Unmarshal(msg, &act); err != nil {
		return reject("", protocol.ErrProtoBadRequest, err.Error())
	}
	if act.ProtocolVersion != protocol.Version {
		return reject(act.ID, protocol.ErrProtoBadRequest, "bad protocol_version")
	}
	if s.validator != nil {
		if err := s.validator.Validate(msg); err != nil {
			return reject(act.ID, protocol.ErrProtoBadRequest, err.Error())
		}
	}
	if act.Actor != "" && act.Actor != string(sess.address) {
		return reject(act.ID, protocol.ErrNoPermission, "actor does not match session")
	}
	if strings.EqualFold(act.Action, protocol.ActSpawn) {
		return reject(act.ID, protocol.ErrNoPermission, "SPAWN is admin-only")
	}
	if sess.limiter != nil && !sess.limiter.Allow() {
		return reject(act.ID, protocol.ErrRateLimit, "too many actions")
	}

	act.Actor = string(sess.address)
	a, err := arena.ActionFromMsg(act)
	if err != nil {
		return arena.ResultMsg(act.ID, arena.Result{}, err)
	}
	res, err := s.engine.Apply(ctx, a)
	return arena.ResultMsg(act.ID, res, err)
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return nil
	}
	if s.validator != nil {
		if err := s.validator.Validate(msg); err != nil {
			closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
			return nil
		}
	}
	addr := strings.TrimSpace(hello.Address)
	if addr == "" {
		closeWith(conn, websocket.ClosePolicyViolation, "missing address")
		return nil
	}

	sess := &session{id: uuid.NewString(), address: ledger.AccountID(addr)}
	if s.opts.ActionsPerSec > 0 {
		burst := s.opts.Burst
		if burst <= 0 {
			burst = 1
		}
		sess.limiter = rate.NewLimiter(rate.Limit(s.opts.ActionsPerSec), burst)
	}

	cfg := s.engine.Config()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		Address:         addr,
		ArenaParams:     cfg.Params(),
	}
	if ps, err := s.engine.Player(sess.address); err == nil {
		welcome.Player = ps.View()
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	return sess
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
