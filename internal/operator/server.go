// Package operator — server.go
//
// Unix domain socket server giving a human operator a way to resolve
// pending HumanApproval/MultiApprove gates and resume Pause gates without
// the circuit embedding any notion of how approval requests reach a human.
//
// Protocol: newline-delimited JSON over a Unix domain socket.
// Socket path: set by the host (govcircuitd's -operator-socket flag, which
// has no default; when it is empty the server is not started).
// Permissions: 0600.
//
// Commands (JSON request -> JSON response):
//
//	{"cmd":"approve","channel_id":"ops","approved":true,"approver_id":"bob"}
//	  -> Resolves the named ApprovalChannel's one pending RequestApproval call.
//	  -> Response: {"ok":true,"channel_id":"ops"}
//
//	{"cmd":"resume"}
//	  -> Signals every Pause gate currently blocked on the shared PauseSignal.
//	  -> Response: {"ok":true}
//
//	{"cmd":"status"}
//	  -> Reports remaining/total enforcement budget.
//	  -> Response: {"ok":true,"budget_remaining":87,"budget_capacity":100}
//
// Security:
//   - Socket is created with 0600 permissions.
//   - Each connection is handled in a separate goroutine.
//   - Max concurrent connections: 4 (operator use only, not high-throughput).
//   - Max request size: 4096 bytes.
//   - Connection timeout: 10s read, 10s write.
package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/govcircuit/internal/intervention"
)

const (
	maxConcurrentConns = 4
	maxRequestBytes    = 4096
	connTimeout        = 10 * time.Second
)

// Request is the JSON structure for operator commands.
type Request struct {
	Cmd        string `json:"cmd"` // approve | resume | status
	ChannelID  string `json:"channel_id,omitempty"`
	Approved   bool   `json:"approved,omitempty"`
	ApproverID string `json:"approver_id,omitempty"`
}

// Response is the JSON structure for operator command responses.
type Response struct {
	OK              bool   `json:"ok"`
	Error           string `json:"error,omitempty"`
	ChannelID       string `json:"channel_id,omitempty"`
	BudgetRemaining int    `json:"budget_remaining,omitempty"`
	BudgetCapacity  int    `json:"budget_capacity,omitempty"`
}

// Server is the operator Unix domain socket server, the gate-resolution
// surface a real deployment wires intervention.ApprovalChannel and
// intervention.PauseSignal to, in place of govcircuitd's no-operator-attached
// auto-approval fallback.
type Server struct {
	socketPath string
	channels   map[string]*intervention.MemApprovalChannel
	pause      *intervention.PauseSignal
	budget     *intervention.Budget
	log        *zap.Logger
	sem        chan struct{}
}

// NewServer creates an operator Server over the given named approval
// channels. pause and budget may be nil if this deployment never uses Pause
// gates or an enforcement budget.
func NewServer(socketPath string, channels map[string]*intervention.MemApprovalChannel, pause *intervention.PauseSignal, budget *intervention.Budget, log *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		channels:   channels,
		pause:      pause,
		budget:     budget,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe starts the operator socket server. Removes any stale socket
// file before binding. Blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("operator: remove stale socket %q: %w", s.socketPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("operator: mkdir %q: %w", filepath.Dir(s.socketPath), err)
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("operator: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("operator: chmod %q: %w", s.socketPath, err)
	}

	s.log.Info("operator socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("operator: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("operator: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(c)
		}(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("operator: read error", zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	s.writeResponse(conn, s.Dispatch(req))
}

// Dispatch routes one Request to its handler and returns the Response,
// without touching the network — the same path handleConn uses, exposed
// directly for testing and for in-process callers that don't need the
// socket.
func (s *Server) Dispatch(req Request) Response {
	switch req.Cmd {
	case "approve":
		return s.cmdApprove(req)
	case "resume":
		return s.cmdResume()
	case "status":
		return s.cmdStatus()
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) cmdApprove(req Request) Response {
	if req.ChannelID == "" {
		return Response{OK: false, Error: "channel_id required for approve"}
	}
	channel, ok := s.channels[req.ChannelID]
	if !ok {
		return Response{OK: false, Error: fmt.Sprintf("unknown channel %q", req.ChannelID)}
	}
	channel.Resolve(req.Approved, req.ApproverID)
	s.log.Info("operator: gate decision delivered",
		zap.String("channel_id", req.ChannelID), zap.Bool("approved", req.Approved), zap.String("approver_id", req.ApproverID))
	return Response{OK: true, ChannelID: req.ChannelID}
}

func (s *Server) cmdResume() Response {
	if s.pause == nil {
		return Response{OK: false, Error: "no pause signal configured for this deployment"}
	}
	s.pause.Resume()
	s.log.Info("operator: pause signal resumed")
	return Response{OK: true}
}

func (s *Server) cmdStatus() Response {
	if s.budget == nil {
		return Response{OK: true}
	}
	return Response{OK: true, BudgetRemaining: s.budget.Remaining(), BudgetCapacity: s.budget.Capacity()}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
