package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gridbuild.dev/internal/protocol"
	"gridbuild.dev/internal/sim/world"
)

const (
	outQueue     = 64
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
	helloTimeout = 5 * time.Second
)

type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader
	// newID is swapped in tests.
	newID func() string
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	return &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		newID: func() string { return "S-" + uuid.NewString() },
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, out := s.handshake(conn)
		if sessionID == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						_ = conn.Close()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			cmd, reason := decodeCmd(msg)
			if reason != "" {
				reject(out, cmd.Seq, reason, s.world.CurrentTick())
				continue
			}
			select {
			case s.world.Inbox() <- world.CommandEnvelope{SessionID: sessionID, Cmd: cmd}:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()
		<-writerDone

		// Cleanup.
		s.world.Leave() <- sessionID
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return "", nil
	}
	name := strings.TrimSpace(hello.ClientName)
	if name == "" {
		name = "client"
	}

	out = make(chan []byte, outQueue)
	respCh := make(chan world.JoinResponse, 1)
	s.world.Join() <- world.JoinRequest{
		SessionID: s.newID(),
		Name:      name,
		Out:       out,
		Resp:      respCh,
	}
	resp := <-respCh
	if s.log != nil {
		s.log.Printf("ws: join session=%s name=%q", resp.Welcome.SessionID, name)
	}

	// Send welcome + catalogs immediately.
	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.world.Leave() <- resp.Welcome.SessionID
		return "", nil
	}
	for _, c := range resp.Catalogs {
		if err := writeJSON(conn, c); err != nil {
			s.world.Leave() <- resp.Welcome.SessionID
			return "", nil
		}
	}
	return resp.Welcome.SessionID, out
}

// decodeCmd returns a non-empty reason when msg is not an acceptable CMD.
// The returned command carries whatever seq could be read.
func decodeCmd(msg []byte) (protocol.CmdMsg, string) {
	var cmd protocol.CmdMsg
	if err := json.Unmarshal(msg, &cmd); err != nil {
		return cmd, "malformed message"
	}
	if cmd.Type != protocol.TypeCmd {
		return cmd, "unexpected message type " + cmd.Type
	}
	if cmd.ProtocolVersion != protocol.Version {
		return cmd, "bad protocol_version"
	}
	if cmd.Op == "" {
		return cmd, "missing op"
	}
	return cmd, ""
}

func reject(out chan []byte, seq uint64, reason string, tick uint64) {
	b, err := json.Marshal(protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          seq,
		Accepted:        false,
		Code:            protocol.ErrProtoBadRequest,
		Message:         reason,
		ServerTick:      tick,
	})
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
