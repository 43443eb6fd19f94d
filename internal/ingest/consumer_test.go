package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casamarzia/opsbell/internal/alerts"
)

type fakeHub struct {
	mu       sync.Mutex
	drafts   []alerts.Draft
	suppress bool
}

func (f *fakeHub) Add(draft alerts.Draft) (*alerts.Alert, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, draft)
	if f.suppress {
		return nil, false
	}
	return &alerts.Alert{ID: uuid.New(), Category: draft.Category, Title: draft.Title}, true
}

func (f *fakeHub) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.drafts)
}

type fakeSQS struct {
	mu       sync.Mutex
	messages []types.Message
	deleted  []string
	recvErr  error
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	msgs := f.messages
	f.messages = nil
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) deletedHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func newTestConsumer(client sqsAPI, hub Hub) *Consumer {
	return &Consumer{
		client:   client,
		queueURL: "https://sqs.test/queue",
		hub:      hub,
		logger:   zap.NewNop(),
	}
}

func eventBody(t *testing.T, ev Event) *string {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return aws.String(string(b))
}

func TestConsumer_IngestsEvent(t *testing.T) {
	hub := &fakeHub{}
	client := &fakeSQS{messages: []types.Message{{
		Body:          eventBody(t, Event{Type: "new_booking", Title: "New Booking", Message: "Table for 2"}),
		ReceiptHandle: aws.String("rh-1"),
	}}}
	c := newTestConsumer(client, hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool { return hub.count() == 1 })
	cancel()
	<-done

	if hub.drafts[0].Category != "new_booking" {
		t.Errorf("category = %s", hub.drafts[0].Category)
	}
	if got := client.deletedHandles(); len(got) != 1 || got[0] != "rh-1" {
		t.Errorf("deleted = %v, want [rh-1]", got)
	}
}

func TestConsumer_DeletesSuppressedEvents(t *testing.T) {
	hub := &fakeHub{suppress: true}
	client := &fakeSQS{messages: []types.Message{{
		Body:          eventBody(t, Event{Type: "cancellation", Title: "Cancelled"}),
		ReceiptHandle: aws.String("rh-2"),
	}}}
	c := newTestConsumer(client, hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool { return len(client.deletedHandles()) == 1 })
	cancel()
	<-done
}

func TestConsumer_DeletesMalformedMessages(t *testing.T) {
	hub := &fakeHub{}
	client := &fakeSQS{messages: []types.Message{
		{Body: aws.String("{not json"), ReceiptHandle: aws.String("rh-3")},
		{Body: aws.String(`{"title":"no type"}`), ReceiptHandle: aws.String("rh-4")},
	}}
	c := newTestConsumer(client, hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool { return len(client.deletedHandles()) == 2 })
	cancel()
	<-done

	if hub.count() != 0 {
		t.Errorf("hub received %d drafts from malformed messages", hub.count())
	}
}

func TestConsumer_StopsOnCancel(t *testing.T) {
	c := newTestConsumer(&fakeSQS{}, &fakeHub{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
}

func TestConsumer_RetriesAfterReceiveError(t *testing.T) {
	hub := &fakeHub{}
	client := &fakeSQS{recvErr: errors.New("throttled")}
	c := newTestConsumer(client, hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	// Clear the error and queue a message; the consumer should recover.
	time.Sleep(50 * time.Millisecond)
	client.mu.Lock()
	client.recvErr = nil
	client.messages = []types.Message{{
		Body:          eventBody(t, Event{Type: "customer_message", Title: "Question"}),
		ReceiptHandle: aws.String("rh-5"),
	}}
	client.mu.Unlock()

	waitFor(t, 5*time.Second, func() bool { return hub.count() == 1 })
	cancel()
	<-done
}

func TestProcess_Outcomes(t *testing.T) {
	hub := &fakeHub{}
	c := newTestConsumer(&fakeSQS{}, hub)

	if got := c.process("{bad"); got != "malformed" {
		t.Errorf("bad json outcome = %s", got)
	}
	if got := c.process(`{"title":"x"}`); got != "malformed" {
		t.Errorf("missing type outcome = %s", got)
	}
	if got := c.process(`{"type":"new_booking","title":"x"}`); got != "accepted" {
		t.Errorf("accepted outcome = %s", got)
	}

	hub.suppress = true
	if got := c.process(`{"type":"new_booking","title":"x"}`); got != "suppressed" {
		t.Errorf("suppressed outcome = %s", got)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
