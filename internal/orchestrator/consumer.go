package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/aiox-platform/companion/internal/memory"
	inats "github.com/aiox-platform/companion/internal/nats"
)

const (
	consumerName  = "orchestrator"
	maxDeliveries = 3
	retryDelay    = 2 * time.Second
)

// TurnProcessor is the part of Service the consumer drives.
type TurnProcessor interface {
	ProcessMessage(ctx context.Context, in inats.InboundTurn) (*TurnResult, error)
}

// ResultPublisher publishes turn outcomes back to the transport.
type ResultPublisher interface {
	PublishTurnResult(ctx context.Context, msg inats.TurnResultMessage) error
}

// Consumer processes inbound turns from JetStream and publishes their results.
type Consumer struct {
	processor   TurnProcessor
	publisher   ResultPublisher
	consumerMgr *inats.ConsumerManager
}

// NewConsumer creates a new turn Consumer.
func NewConsumer(processor TurnProcessor, publisher ResultPublisher, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		processor:   processor,
		publisher:   publisher,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consumer loop. It returns when ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.StreamTurns, consumerName, inats.SubjectInboundTurn, maxDeliveries)
	if err != nil {
		return err
	}

	slog.Info("turn consumer started", "consumer", consumerName)
	return inats.FetchLoop(ctx, consumer, consumerName, c.processMessage)
}

func (c *Consumer) processMessage(ctx context.Context, msg jetstream.Msg) {
	var in inats.InboundTurn
	if err := json.Unmarshal(msg.Data(), &in); err != nil {
		slog.Error("unmarshaling inbound turn", "error", err)
		_ = msg.Term()
		return
	}

	final := false
	if md, err := msg.Metadata(); err == nil && md.NumDelivered >= maxDeliveries {
		final = true
	}
	if c.handle(ctx, in, final) {
		_ = msg.Ack()
		return
	}
	_ = msg.NakWithDelay(retryDelay)
}

// handle processes one inbound turn and reports whether it is settled.
// Internal errors are left for redelivery until the final attempt; every
// other outcome is published.
func (c *Consumer) handle(ctx context.Context, in inats.InboundTurn, final bool) bool {
	reply := inats.TurnResultMessage{RequestID: in.RequestID, SessionID: in.SessionID}

	result, err := c.processor.ProcessMessage(ctx, in)
	if err != nil {
		code, appErr := classify(err)
		if code == CodeInternal {
			slog.Error("processing inbound turn", "error", err, "request_id", in.RequestID, "session_id", in.SessionID, "final", final)
			if !final {
				return false
			}
		} else {
			slog.Warn("inbound turn rejected", "code", code, "error", err, "request_id", in.RequestID)
		}
		reply.Code = code
		reply.Error = appErr.Message
	} else {
		payload, err := json.Marshal(result)
		if err != nil {
			slog.Error("marshaling turn result", "error", err, "request_id", in.RequestID)
			return false
		}
		reply.Result = payload
	}

	// The reply is delivered on a detached context so a shutdown mid-turn
	// still answers the transport.
	if err := c.publisher.PublishTurnResult(context.WithoutCancel(ctx), reply); err != nil {
		slog.Error("publishing turn result", "error", err, "request_id", in.RequestID)
	}
	return true
}

// ProcessMessage validates the message, loads its session and runs the turn.
func (s *Service) ProcessMessage(ctx context.Context, in inats.InboundTurn) (*TurnResult, error) {
	req := TurnRequest{User: fromWire(in.User), Assistant: fromWire(in.Assistant)}
	if err := validateTurn(s.validate, req); err != nil {
		return nil, err
	}
	active, err := s.Session(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	return s.ProcessTurn(ctx, active, req.User, req.Assistant)
}

func fromWire(t inats.TurnText) TurnInput {
	var emotion *memory.Emotion
	if t.Emotion != nil {
		e := *t.Emotion
		emotion = &e
	}
	return TurnInput{
		Transcript: t.Transcript,
		AudioRef:   t.AudioRef,
		Emotion:    emotion,
		Timestamp:  t.Timestamp,
	}
}
