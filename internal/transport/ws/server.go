package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"hexmarket.gg/internal/game/directory"
	"hexmarket.gg/internal/game/room"
	"hexmarket.gg/internal/protocol"
)

// outQueue is the per-connection outbound buffer. The room writes with
// keep-latest semantics, so a slow client drops stale state frames
// instead of blocking the actor.
const outQueue = 8

type Server struct {
	dir       *directory.Directory
	validator *protocol.Validator
	log       *log.Logger

	upgrader websocket.Upgrader

	connSeq     atomic.Uint64
	connections atomic.Int64
	messagesIn  atomic.Uint64
	framesOut   atomic.Uint64
	errCount    atomic.Uint64
}

func NewServer(dir *directory.Directory, validator *protocol.Validator, logger *log.Logger) *Server {
	s := &Server{
		dir:       dir,
		validator: validator,
		log:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

// Metrics accessors for /metrics.
func (s *Server) ConnectionsActive() int64 { return s.connections.Load() }
func (s *Server) MessagesInTotal() uint64  { return s.messagesIn.Load() }
func (s *Server) BroadcastsTotal() uint64  { return s.framesOut.Load() }
func (s *Server) ErrorsTotal() uint64      { return s.errCount.Load() }

// Handler serves /v1/rooms/{roomID}/ws. The first frame must be a join
// (lobby only) or rejoin (any phase); afterwards the connection is bound
// to that player until it closes.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rm := s.dir.Room(mux.Vars(r)["roomID"])
		if rm == nil {
			http.NotFound(rw, r)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		playerID, out, connID := s.handshake(conn, rm)
		if playerID == "" {
			return
		}

		s.connections.Add(1)
		defer s.connections.Add(-1)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine. The room closes out when this connection is
		// superseded; closing the conn in turn kicks the reader, so the
		// old connection does not linger until its read deadline.
		go func() {
			defer conn.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
					s.framesOut.Add(1)
				}
			}
		}()

		// Reader loop. Only the writer goroutine may write after the
		// handshake, so invalid frames are counted and dropped, never
		// answered from here.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || !protocol.IsInboundType(base.Type) {
				s.errCount.Add(1)
				continue
			}
			if base.Type == protocol.TypeJoin || base.Type == protocol.TypeRejoin {
				s.errCount.Add(1)
				continue
			}
			if err := s.validator.ValidateInbound(msg); err != nil {
				s.errCount.Add(1)
				continue
			}
			s.messagesIn.Add(1)
			if !rm.Deliver(room.ActionEnvelope{PlayerID: playerID, Type: base.Type, Raw: msg}) {
				break
			}
		}

		// Cleanup. ConnID keeps a superseded connection's leave from
		// detaching its successor.
		rm.Leave(room.LeaveNotice{PlayerID: playerID, ConnID: connID})
	}
}

func (s *Server) handshake(conn *websocket.Conn, rm *room.Room) (playerID string, out chan []byte, connID uint64) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil, 0
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || (base.Type != protocol.TypeJoin && base.Type != protocol.TypeRejoin) {
		s.errCount.Add(1)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected join or rejoin"), time.Now().Add(time.Second))
		return "", nil, 0
	}
	if base.ProtocolVersion != "" && base.ProtocolVersion != protocol.Version {
		s.errCount.Add(1)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil, 0
	}
	if err := s.validator.ValidateInbound(msg); err != nil {
		s.errCount.Add(1)
		s.writeError(conn, protocol.ErrProtoBadRequest, "invalid frame")
		return "", nil, 0
	}

	out = make(chan []byte, outQueue)
	connID = s.connSeq.Add(1)
	respCh := make(chan room.JoinResponse, 1)

	sent := false
	if base.Type == protocol.TypeJoin {
		var join protocol.JoinMsg
		if err := json.Unmarshal(msg, &join); err != nil {
			return "", nil, 0
		}
		sent = rm.Join(room.JoinRequest{Name: join.PlayerName, Out: out, ConnID: connID, Resp: respCh})
	} else {
		var rejoin protocol.RejoinMsg
		if err := json.Unmarshal(msg, &rejoin); err != nil {
			return "", nil, 0
		}
		sent = rm.Attach(room.AttachRequest{PlayerID: rejoin.PlayerID, Name: rejoin.PlayerName, Out: out, ConnID: connID, Resp: respCh})
	}
	if !sent {
		s.writeError(conn, protocol.ErrInternal, "room is shutting down")
		return "", nil, 0
	}

	var resp room.JoinResponse
	select {
	case resp = <-respCh:
	case <-time.After(5 * time.Second):
		s.writeError(conn, protocol.ErrInternal, "room unresponsive")
		return "", nil, 0
	}
	if !resp.OK() {
		s.errCount.Add(1)
		s.writeError(conn, resp.Code, resp.Message)
		return "", nil, 0
	}

	if err := s.writeJSON(conn, protocol.JoinedMsg{
		Type:            protocol.TypeJoined,
		ProtocolVersion: protocol.Version,
		RoomID:          rm.ID(),
		PlayerID:        resp.PlayerID,
	}); err != nil {
		rm.Leave(room.LeaveNotice{PlayerID: resp.PlayerID, ConnID: connID})
		return "", nil, 0
	}
	return resp.PlayerID, out, connID
}

func (s *Server) writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return err
	}
	s.framesOut.Add(1)
	return nil
}

// writeError is handshake-only: after the writer goroutine starts, all
// outbound traffic goes through the out channel.
func (s *Server) writeError(conn *websocket.Conn, code, message string) {
	_ = s.writeJSON(conn, protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: message})
}
