package whatsapp_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rufuslabs/wappgate/internal/whatsapp"
)

// checkedClient overrides the target probe of mockClient.
type checkedClient struct {
	mockClient
	exists     bool
	resolvedID string
	checks     int
	sentTo     []string
}

func (c *checkedClient) CheckTarget(_ context.Context, _ string) (whatsapp.TargetCheck, error) {
	c.checks++
	return whatsapp.TargetCheck{Exists: c.exists, ResolvedID: c.resolvedID}, nil
}

func (c *checkedClient) Send(_ context.Context, target, _ string) (whatsapp.Receipt, error) {
	c.sentTo = append(c.sentTo, target)
	return whatsapp.Receipt{MessageID: "m1", To: target}, nil
}

func registryWith(t *testing.T, sessionID string, client whatsapp.Client) *whatsapp.Registry {
	t.Helper()
	reg := whatsapp.NewRegistry(nil, whatsapp.FactoryFunc(func(_ context.Context, _ whatsapp.CreateConfig) (whatsapp.Client, error) {
		return client, nil
	}))
	if _, err := reg.Acquire(context.Background(), sessionID, whatsapp.CreateConfig{}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	return reg
}

func TestSendNormalizesAndResolvesTarget(t *testing.T) {
	t.Parallel()

	client := &checkedClient{exists: true, resolvedID: "5511999999999@lid"}
	msgs := whatsapp.NewMessages(nil, registryWith(t, "sales-line", client), 0)

	receipt, err := msgs.Send(context.Background(), "sales-line", "+55 11 99999-9999", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if receipt.To != "5511999999999@lid" {
		t.Fatalf("receipt.To = %q, want the provider-resolved id", receipt.To)
	}
	if len(client.sentTo) != 1 || client.sentTo[0] != "5511999999999@lid" {
		t.Fatalf("sent to %v, want the resolved id", client.sentTo)
	}
}

func TestSendSkipsTargetCheckForLinkAndGroupTargets(t *testing.T) {
	t.Parallel()

	client := &checkedClient{exists: false}
	msgs := whatsapp.NewMessages(nil, registryWith(t, "sales-line", client), 0)

	for _, target := range []string{"123456789012345@lid", "5511999999999-163000@g.us"} {
		if _, err := msgs.Send(context.Background(), "sales-line", target, "hello"); err != nil {
			t.Fatalf("send to %s: %v", target, err)
		}
	}
	if client.checks != 0 {
		t.Fatalf("checks = %d, want no probe for link/group targets", client.checks)
	}
	if len(client.sentTo) != 2 || client.sentTo[0] != "123456789012345@lid" || client.sentTo[1] != "5511999999999-163000@g.us" {
		t.Fatalf("sent to %v", client.sentTo)
	}
}

func TestSendRejectsUnregisteredTarget(t *testing.T) {
	t.Parallel()

	client := &checkedClient{exists: false}
	msgs := whatsapp.NewMessages(nil, registryWith(t, "sales-line", client), 0)

	_, err := msgs.Send(context.Background(), "sales-line", "5511999999999", "hello")
	if !errors.Is(err, whatsapp.ErrTargetNotRegistered) {
		t.Fatalf("error = %v, want ErrTargetNotRegistered", err)
	}
	if len(client.sentTo) != 0 {
		t.Fatal("message was sent despite failed target check")
	}
}

func TestSendRequiresLiveSession(t *testing.T) {
	t.Parallel()

	reg := whatsapp.NewRegistry(nil, whatsapp.FactoryFunc(func(_ context.Context, _ whatsapp.CreateConfig) (whatsapp.Client, error) {
		return &mockClient{}, nil
	}))
	msgs := whatsapp.NewMessages(nil, reg, 0)

	_, err := msgs.Send(context.Background(), "nobody-home", "5511999999999", "hello")
	if !errors.Is(err, whatsapp.ErrSessionNotFound) {
		t.Fatalf("error = %v, want ErrSessionNotFound", err)
	}
}

func TestSendRejectsEmptyBodyAndBadTarget(t *testing.T) {
	t.Parallel()

	client := &checkedClient{exists: true}
	msgs := whatsapp.NewMessages(nil, registryWith(t, "sales-line", client), 0)

	if _, err := msgs.Send(context.Background(), "sales-line", "5511999999999", ""); err == nil {
		t.Fatal("empty body accepted")
	}
	if _, err := msgs.Send(context.Background(), "sales-line", "123", "hi"); !errors.Is(err, whatsapp.ErrInvalidJID) {
		t.Fatalf("short target error = %v, want ErrInvalidJID", err)
	}
}
