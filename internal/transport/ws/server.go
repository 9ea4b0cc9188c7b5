package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"colonysim.ai/internal/protocol"
	"colonysim.ai/internal/sim/colony"
)

// Colony is the part of the colony loop the command endpoints use.
type Colony interface {
	Inbox() chan<- colony.CommandRequest
}

// Server accepts operator commands over a WebSocket (one COMMAND_RESULT per
// COMMAND, in receive order) and over plain HTTP POST.
type Server struct {
	colony Colony
	log    *log.Logger

	// ResultTimeout bounds how long a command waits for its tick.
	ResultTimeout time.Duration

	upgrader websocket.Upgrader
}

func NewServer(c Colony, logger *log.Logger) *Server {
	return &Server{
		colony:        c,
		log:           logger,
		ResultTimeout: 10 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Results are written in submission order.
		pending := make(chan chan protocol.CommandResultMsg, 64)

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case resp, ok := <-pending:
					if !ok {
						return
					}
					var res protocol.CommandResultMsg
					select {
					case res = <-resp:
					case <-ctx.Done():
						return
					}
					if err := writeJSON(conn, res); err != nil {
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
				break
			}
			cmd, res, ok := decodeCommand(msg)
			resp := make(chan protocol.CommandResultMsg, 1)
			if !ok {
				resp <- res
			} else if !s.submit(ctx, cmd, resp) {
				break
			}
			select {
			case pending <- resp:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}

		close(pending)
		select {
		case <-done:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// CommandHandler serves POST /v1/commands: one COMMAND in, one COMMAND_RESULT out.
func (s *Server) CommandHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
		if err != nil {
			http.Error(rw, "read body", http.StatusBadRequest)
			return
		}
		cmd, res, ok := decodeCommand(body)
		if ok {
			resp := make(chan protocol.CommandResultMsg, 1)
			ctx, cancel := context.WithTimeout(r.Context(), s.ResultTimeout)
			defer cancel()
			if !s.submit(ctx, cmd, resp) {
				http.Error(rw, "colony busy", http.StatusServiceUnavailable)
				return
			}
			select {
			case res = <-resp:
			case <-ctx.Done():
				http.Error(rw, "timeout waiting for tick", http.StatusGatewayTimeout)
				return
			}
		}
		rw.Header().Set("Content-Type", "application/json")
		if !res.Accepted && res.Code == protocol.ErrBadRequest {
			rw.WriteHeader(http.StatusBadRequest)
		}
		_ = json.NewEncoder(rw).Encode(res)
	}
}

func (s *Server) submit(ctx context.Context, cmd protocol.CommandMsg, resp chan protocol.CommandResultMsg) bool {
	select {
	case s.colony.Inbox() <- colony.CommandRequest{Cmd: cmd, Resp: resp}:
		return true
	case <-ctx.Done():
		return false
	}
}

// decodeCommand parses a COMMAND. When it is malformed, ok is false and res
// carries the rejection.
func decodeCommand(msg []byte) (cmd protocol.CommandMsg, res protocol.CommandResultMsg, ok bool) {
	res = protocol.CommandResultMsg{
		Type:            protocol.TypeCommandResult,
		ProtocolVersion: protocol.Version,
		Code:            protocol.ErrBadRequest,
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		res.Message = "invalid json"
		return cmd, res, false
	}
	if base.Type != protocol.TypeCommand {
		res.Message = "expected COMMAND"
		return cmd, res, false
	}
	if err := json.Unmarshal(msg, &cmd); err != nil {
		res.Message = err.Error()
		return cmd, res, false
	}
	res.ID = cmd.ID
	res.AgentID = cmd.AgentID
	if cmd.ProtocolVersion != protocol.Version {
		res.Message = "bad protocol_version"
		return cmd, res, false
	}
	return cmd, res, true
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
