package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/your-org/admatch/internal/apperr"
	"github.com/your-org/admatch/internal/models"
)

const (
	rpcSubjectBase = "rpc.face"
	rpcQueueGroup  = "match-workers"
)

func rpcSubject(op string) string {
	return rpcSubjectBase + "." + op
}

// RPCClient lets the API run synchronous face operations on the worker, which
// owns the org critical section. Request-reply over plain NATS; a missing or
// slow worker surfaces as WORKER_UNAVAILABLE rather than a hang.
type RPCClient struct {
	nc      *nats.Conn
	timeout time.Duration
}

func NewRPCClient(natsURL string, timeout time.Duration) (*RPCClient, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &RPCClient{nc: nc, timeout: timeout}, nil
}

func (c *RPCClient) call(ctx context.Context, op string, orgID uuid.UUID, params any) (json.RawMessage, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal rpc params: %w", err)
	}
	data, err := json.Marshal(models.RPCRequest{Op: op, OrgID: orgID, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.nc.RequestWithContext(callCtx, rpcSubject(op), data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) ||
			errors.Is(err, nats.ErrTimeout) ||
			errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Wrap(apperr.CodeWorkerUnavailable, err)
		}
		return nil, fmt.Errorf("rpc %s: %w", op, err)
	}

	return decodeReply(msg.Data)
}

// decodeReply turns a wire reply back into either the result payload or the
// *apperr.Error the worker raised, so callers see the same code on both sides
// of the broker.
func decodeReply(data []byte) (json.RawMessage, error) {
	var reply models.RPCReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("unmarshal rpc reply: %w", err)
	}
	if !reply.OK {
		code := apperr.Code(reply.Code)
		if code == "" {
			code = apperr.CodeInternal
		}
		if reply.Error != "" {
			return nil, apperr.Newf(code, "%s", reply.Error)
		}
		return nil, apperr.New(code)
	}
	return reply.Data, nil
}

func (c *RPCClient) Register(ctx context.Context, orgID uuid.UUID, params models.RegisterParams) (*models.RegisterResult, error) {
	data, err := c.call(ctx, models.RPCOpRegister, orgID, params)
	if err != nil {
		return nil, err
	}
	var res models.RegisterResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("unmarshal register result: %w", err)
	}
	return &res, nil
}

func (c *RPCClient) Recognize(ctx context.Context, orgID uuid.UUID, params models.RecognizeParams) (*models.RecognizeResult, error) {
	data, err := c.call(ctx, models.RPCOpRecognize, orgID, params)
	if err != nil {
		return nil, err
	}
	var res models.RecognizeResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("unmarshal recognize result: %w", err)
	}
	return &res, nil
}

func (c *RPCClient) DeleteFace(ctx context.Context, orgID uuid.UUID, params models.DeleteFaceParams) (*models.DeleteFaceResult, error) {
	op := models.RPCOpDeleteFace
	if params.FaceID == uuid.Nil {
		op = models.RPCOpDeleteFaces
	}
	data, err := c.call(ctx, op, orgID, params)
	if err != nil {
		return nil, err
	}
	var res models.DeleteFaceResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("unmarshal delete result: %w", err)
	}
	return &res, nil
}

func (c *RPCClient) Ping() error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (c *RPCClient) Close() {
	c.nc.Close()
}

// RPCHandler serves one operation. A returned apperr carries its code to the
// caller; any other error maps to INTERNAL_ERROR.
type RPCHandler func(ctx context.Context, req models.RPCRequest) (any, error)

// RPCServer is the worker side of the funnel. Handlers for one op join a
// queue group, so each request lands on exactly one worker replica.
type RPCServer struct {
	nc        *nats.Conn
	opTimeout time.Duration
	subs      []*nats.Subscription
}

func NewRPCServer(natsURL string, opTimeout time.Duration) (*RPCServer, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &RPCServer{nc: nc, opTimeout: opTimeout}, nil
}

// Handle registers the handler for op.
func (s *RPCServer) Handle(op string, handler RPCHandler) error {
	sub, err := s.nc.QueueSubscribe(rpcSubject(op), rpcQueueGroup, func(m *nats.Msg) {
		go s.serve(m, handler)
	})
	if err != nil {
		return fmt.Errorf("subscribe rpc %s: %w", op, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *RPCServer) serve(m *nats.Msg, handler RPCHandler) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	var req models.RPCRequest
	if err := json.Unmarshal(m.Data, &req); err != nil {
		s.respond(m, models.RPCReply{OK: false, Code: string(apperr.CodeInvalidRequest), Error: "malformed rpc request"})
		return
	}

	result, err := handler(ctx, req)
	if err != nil {
		ae := apperr.From(err)
		s.respond(m, models.RPCReply{OK: false, Code: string(ae.Code), Error: ae.Message})
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		slog.Error("marshal rpc result", "op", req.Op, "error", err)
		s.respond(m, models.RPCReply{OK: false, Code: string(apperr.CodeInternal), Error: "encode result"})
		return
	}
	s.respond(m, models.RPCReply{OK: true, Data: data})
}

func (s *RPCServer) respond(m *nats.Msg, reply models.RPCReply) {
	payload, err := json.Marshal(reply)
	if err != nil {
		slog.Error("marshal rpc reply", "error", err)
		return
	}
	if err := m.Respond(payload); err != nil {
		slog.Error("send rpc reply", "error", err)
	}
}

func (s *RPCServer) Close() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.nc.Close()
}
