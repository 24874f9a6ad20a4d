// Package relay filters notifications from the source chat and forwards the
// ones that match a configured pattern to the destination chat.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"msgfilter/internal/domain"
	"msgfilter/internal/pattern"
)

// Outcome is what Handle did with one notification.
type Outcome int

const (
	OutcomeWrongChat Outcome = iota // not from the source chat
	OutcomeNoText                   // nothing to match against
	OutcomeNoMatch                  // no pattern matched, or none configured
	OutcomeForwarded
	OutcomeForwardFailed
)

var outcomeNames = [...]string{"wrong_chat", "no_text", "no_match", "forwarded", "forward_failed"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Config wires a Relay.
type Config struct {
	SourceChatID      int64
	DestinationChatID int64
	Patterns          pattern.Set
	Bus               domain.MessageBus
	Logger            *slog.Logger
}

// Relay holds only read-only state; Handle is safe for concurrent use.
type Relay struct {
	source      int64
	destination int64
	patterns    pattern.Set
	bus         domain.MessageBus
	logger      *slog.Logger
}

func New(cfg Config) *Relay {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Relay{
		source:      cfg.SourceChatID,
		destination: cfg.DestinationChatID,
		patterns:    cfg.Patterns,
		bus:         cfg.Bus,
		logger:      cfg.Logger,
	}
}

// Run takes notifications off the bus and filters them in order. Each match
// is forwarded in its own goroutine, so a forward that never returns holds no
// resource the dispatch loop needs. Run returns when ctx is cancelled or the
// bus is closed, after in-flight forwards finish.
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info("relay started",
		"source_chat_id", r.source,
		"destination_chat_id", r.destination,
		"patterns", len(r.patterns),
	)

	var wg sync.WaitGroup
	defer wg.Wait()

	inbound := r.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				r.logger.Info("inbound channel closed, relay stopping")
				return
			}
			idx, _, matched := r.filter(msg)
			if !matched {
				continue
			}
			wg.Add(1)
			go func(m domain.InboundMessage, idx int) {
				defer wg.Done()
				r.forward(ctx, m, idx)
			}(msg, idx)
		}
	}
}

// Handle runs one notification through filter and forward. A failed or
// panicking forward is logged and reported as OutcomeForwardFailed; it never
// propagates.
func (r *Relay) Handle(ctx context.Context, msg domain.InboundMessage) Outcome {
	idx, outcome, matched := r.filter(msg)
	if !matched {
		return outcome
	}
	return r.forward(ctx, msg, idx)
}

// filter returns the index of the first pattern matching msg. When nothing is
// to be forwarded it returns the outcome explaining why.
func (r *Relay) filter(msg domain.InboundMessage) (int, Outcome, bool) {
	if msg.ChatID != r.source {
		return -1, OutcomeWrongChat, false
	}
	if !msg.HasText() {
		return -1, OutcomeNoText, false
	}
	idx, ok := r.patterns.Match(msg.Text)
	if !ok {
		r.logger.Debug("no pattern matched", "message_id", msg.MessageID)
		return -1, OutcomeNoMatch, false
	}
	return idx, OutcomeForwarded, true
}

func (r *Relay) forward(ctx context.Context, msg domain.InboundMessage, idx int) (outcome Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic while forwarding message",
				"chat_id", msg.ChatID,
				"message_id", msg.MessageID,
				"panic", rec,
			)
			outcome = OutcomeForwardFailed
		}
	}()

	r.logger.Info("match found, forwarding message",
		"pattern", r.patterns[idx].Template,
		"message_id", msg.MessageID,
		"from", r.source,
		"to", r.destination,
	)

	if msg.Forward == nil {
		r.logger.Error("error forwarding message", "message_id", msg.MessageID, "err", "transport gave no forward action")
		return OutcomeForwardFailed
	}
	if err := msg.Forward(ctx, r.destination); err != nil {
		r.logger.Error("error forwarding message", "message_id", msg.MessageID, "err", err)
		return OutcomeForwardFailed
	}

	r.logger.Info("message forwarded successfully", "message_id", msg.MessageID, "to", r.destination)
	return OutcomeForwarded
}

// LogPatterns writes the loaded pattern list, or the warning that nothing
// will ever be forwarded.
func LogPatterns(logger *slog.Logger, patterns pattern.Set) {
	if len(patterns) == 0 {
		logger.Warn("no filter patterns configured; no messages will be forwarded")
		return
	}
	logger.Info("loaded filter patterns", "count", len(patterns))
	for i, p := range patterns {
		logger.Info("filter pattern", "n", i+1, "template", p.Template, "regex", p.Expr)
	}
}
