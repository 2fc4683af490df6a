// Package chatbot glues the event bridge to the funnel engine: inbound
// messages become funnel traversals, replies go back out as outbound
// envelopes, and handoffs open attendant tickets.
package chatbot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rufuslabs/wappgate/internal/bus"
	"github.com/rufuslabs/wappgate/internal/funnel"
	"github.com/rufuslabs/wappgate/internal/leads"
	"github.com/rufuslabs/wappgate/internal/tickets"
	"github.com/rufuslabs/wappgate/internal/whatsapp"
)

// LeadDirectory upserts the lead behind an inbound sender.
type LeadDirectory interface {
	GetOrCreate(ctx context.Context, phone, name string) (leads.Lead, error)
}

// TicketQueue opens attendant tickets on funnel handoffs.
type TicketQueue interface {
	Open(ctx context.Context, leadID, sessionID string) (tickets.Ticket, error)
}

// Service consumes inbound chat traffic.
type Service struct {
	bridge  *bus.Bridge
	engine  *funnel.Engine
	leads   LeadDirectory
	tickets TicketQueue
	logger  *slog.Logger
}

// NewService creates the chatbot consumer.
func NewService(log *slog.Logger, bridge *bus.Bridge, engine *funnel.Engine, leadDir LeadDirectory, ticketQueue TicketQueue) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		bridge:  bridge,
		engine:  engine,
		leads:   leadDir,
		tickets: ticketQueue,
		logger:  log.With(slog.String("service", "chatbot")),
	}
}

// Bind subscribes the service to inbound envelopes.
func (s *Service) Bind() {
	s.bridge.Subscribe(bus.TopicMessageReceived, s.handle)
}

func (s *Service) handle(ctx context.Context, payload any) error {
	msg, ok := payload.(bus.InboundMessage)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", payload)
	}

	sender, err := whatsapp.ResolveJID(msg.From, msg.ChatID, "")
	if err != nil {
		s.logger.Debug("unresolvable sender, skipping", slog.String("from", msg.From))
		return nil
	}

	// Group chats never drive the funnel.
	if msg.IsGroup || whatsapp.IsGroupJID(sender) {
		return nil
	}

	phone := whatsapp.PhoneFromJID(sender)
	if phone == "" {
		s.logger.Debug("no phone in sender, skipping", slog.String("from", msg.From))
		return nil
	}

	lead, err := s.leads.GetOrCreate(ctx, phone, "")
	if err != nil {
		return fmt.Errorf("get or create lead: %w", err)
	}

	result, err := s.engine.Process(ctx, sender, msg.Body)
	if err != nil {
		return fmt.Errorf("process message from %s: %w", sender, err)
	}

	if result.Action == funnel.ActionHandoff {
		if _, err := s.tickets.Open(ctx, lead.ID, msg.SessionID); err != nil {
			s.logger.Error("open handoff ticket failed",
				slog.String("lead_id", lead.ID),
				slog.Any("error", err))
		}
	}

	if result.Reply == "" {
		return nil
	}

	// Replies go to the originating chat; a missing chat id falls back to
	// the resolved sender.
	to, err := whatsapp.ResolveJID(msg.ChatID, msg.From, "")
	if err != nil {
		to = sender
	}
	s.bridge.Publish(bus.TopicMessageSend, bus.OutboundMessage{
		SessionID: msg.SessionID,
		To:        to,
		Body:      result.Reply,
	})
	return nil
}
