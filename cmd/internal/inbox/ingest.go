package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "inbox/contracts/realtime/v1"
)

// Broadcaster fans a realtime event out to connected viewers.
// Implementations are best-effort: a returned error is logged, never propagated.
type Broadcaster interface {
	Publish(ctx context.Context, ev v1.Event) error
}

// IngestObserver receives pipeline outcomes (metrics).
type IngestObserver interface {
	MessageIngested()
	IngestFailed(stage string)
}

// Ingest failure stages reported to IngestObserver.
const (
	StageValidate  = "validate"
	StageAppend    = "append"
	StageUpsert    = "upsert"
	StageBroadcast = "broadcast"
)

// Pipeline is the write side: message append, conversation upsert, broadcast.
type Pipeline struct {
	log           *slog.Logger
	messages      MessageStore
	conversations ConversationStore
	broadcaster   Broadcaster
	observer      IngestObserver
	now           func() time.Time
}

// PipelineOption configures optional Pipeline behavior.
type PipelineOption func(*Pipeline)

// WithClock overrides the clock used for defaulted timestamps.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithObserver attaches an IngestObserver.
func WithObserver(o IngestObserver) PipelineOption {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// NewPipeline constructs a Pipeline. broadcaster may be nil (no realtime fanout).
func NewPipeline(log *slog.Logger, messages MessageStore, conversations ConversationStore, broadcaster Broadcaster, opts ...PipelineOption) (*Pipeline, error) {
	if messages == nil || conversations == nil {
		return nil, errors.New("inbox: nil store")
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		log:           log,
		messages:      messages,
		conversations: conversations,
		broadcaster:   broadcaster,
		observer:      nopObserver{},
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(p)
	}
	return p, nil
}

// Ingest records an inbound message and announces it.
//
// The message is appended first, then the conversation is upserted. An upsert failure
// is returned even though the message is already stored. Broadcast never fails Ingest.
func (p *Pipeline) Ingest(ctx context.Context, in InboundMessage) (Message, error) {
	if err := in.Validate(); err != nil {
		p.observer.IngestFailed(StageValidate)
		return Message{}, err
	}

	// Captured once so both writes agree on the defaulted timestamp.
	ts := in.Timestamp
	if ts.IsZero() {
		ts = p.now()
	}
	ts = ts.UTC()
	contact := NormalizeContact(in.Contact)

	msg, err := p.messages.AppendMessage(ctx, AppendMessageInput{
		Contact:   contact,
		Name:      in.Name,
		Body:      in.Body,
		Timestamp: ts,
		IsReply:   false,
	})
	if err != nil {
		p.observer.IngestFailed(StageAppend)
		p.log.Error("ingest.append.fail", "contact", contact, "err", err)
		return Message{}, fmt.Errorf("append message: %w", err)
	}

	if _, err := p.conversations.UpsertConversation(ctx, UpsertConversationInput{
		Contact:       contact,
		Name:          in.Name,
		LastBody:      in.Body,
		LastTimestamp: ts,
	}); err != nil {
		p.observer.IngestFailed(StageUpsert)
		p.log.Error("ingest.upsert.fail", "contact", contact, "message_id", msg.ID, "err", err)
		return Message{}, fmt.Errorf("upsert conversation after message %s: %w", msg.ID, err)
	}

	p.observer.MessageIngested()
	p.log.Info("ingest.ok", "contact", contact, "message_id", msg.ID)

	p.publish(ctx, msg)
	return msg, nil
}

func (p *Pipeline) publish(ctx context.Context, msg Message) {
	if p.broadcaster == nil {
		return
	}
	ev, err := NewMessageEvent(msg)
	if err != nil {
		p.observer.IngestFailed(StageBroadcast)
		p.log.Warn("ingest.broadcast.encode.fail", "message_id", msg.ID, "err", err)
		return
	}
	if err := p.broadcaster.Publish(ctx, ev); err != nil {
		p.observer.IngestFailed(StageBroadcast)
		p.log.Warn("ingest.broadcast.fail", "message_id", msg.ID, "err", err)
	}
}

// NewMessageEvent converts a stored message into its realtime event.
func NewMessageEvent(m Message) (v1.Event, error) {
	return v1.NewMessageEvent(v1.MessageData{
		ID:        m.ID,
		Phone:     m.Contact,
		Name:      m.Name,
		Message:   m.Body,
		Timestamp: m.Timestamp,
		IsFromBot: m.IsReply,
	})
}

type nopObserver struct{}

func (nopObserver) MessageIngested()    {}
func (nopObserver) IngestFailed(string) {}
