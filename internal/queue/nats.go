package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nats-io/nats.go"

	"embed-service/internal/httputil"
	"embed-service/internal/service"
)

// ErrorReply is sent instead of a service.Response when a request fails.
// Status follows HTTP semantics (400 client error, 500 internal).
type ErrorReply struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// Server answers embed requests over NATS request/reply. Instances sharing
// a queue group split the load.
type Server struct {
	log     *slog.Logger
	nc      *nats.Conn
	svc     *service.Service
	subject string
	group   string
}

// NewNATS constructs a NATS transport for svc.
func NewNATS(log *slog.Logger, nc *nats.Conn, svc *service.Service, subject, group string) *Server {
	return &Server{log: log, nc: nc, svc: svc, subject: subject, group: group}
}

// Serve subscribes and blocks until ctx is cancelled, then drains the
// subscription so in-flight requests are answered.
func (s *Server) Serve(ctx context.Context) error {
	// Requests already received are answered even while draining.
	reqCtx := context.WithoutCancel(ctx)
	sub, err := s.nc.QueueSubscribe(s.subject, s.group, func(msg *nats.Msg) {
		reply := s.Handle(reqCtx, msg.Data)
		if msg.Reply == "" {
			s.log.Warn("embed request without reply subject", "subject", msg.Subject)
			return
		}
		if err := msg.Respond(reply); err != nil {
			s.log.Error("failed to send reply", "err", err)
		}
	})
	if err != nil {
		return err
	}
	s.log.Info("nats transport listening", "subject", s.subject, "group", s.group)
	<-ctx.Done()
	return sub.Drain()
}

// Handle decodes one request payload and returns the encoded reply.
func (s *Server) Handle(ctx context.Context, data []byte) []byte {
	var req service.Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.svc.CountRejected()
		return s.fail("invalid payload", err, http.StatusBadRequest)
	}
	if err := httputil.Validator.Struct(&req); err != nil {
		s.svc.CountRejected()
		return s.fail("texts is required", err, http.StatusBadRequest)
	}

	res, err := s.svc.Embed(ctx, req.Texts, req.Normalize)
	if err != nil {
		status := http.StatusInternalServerError
		if service.IsClientError(err) {
			status = http.StatusBadRequest
		}
		return s.fail(err.Error(), err, status)
	}

	body, err := json.Marshal(res.Response(s.svc.Model()))
	if err != nil {
		return s.fail("marshal reply failed", err, http.StatusInternalServerError)
	}
	return body
}

func (s *Server) fail(message string, err error, status int) []byte {
	if status >= http.StatusInternalServerError {
		s.log.Error(message, "err", err, "transport", "nats")
	} else {
		s.log.Warn(message, "err", err, "transport", "nats")
	}
	body, _ := json.Marshal(ErrorReply{Error: message, Status: status})
	return body
}
