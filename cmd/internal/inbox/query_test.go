package inbox

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestService_GetMessagesOldestFirstWithinLimit(t *testing.T) {
	st := NewInMemoryStore()
	svc := mustNewService(t, st)
	ctx := context.Background()
	base := testTime()

	for i := 0; i < 5; i++ {
		if _, err := st.AppendMessage(ctx, AppendMessageInput{
			Contact: "+1", Name: "A", Body: fmt.Sprintf("m%d", i), Timestamp: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := svc.GetMessages(ctx, "+1", 3)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if got := bodies(msgs); got != "m2,m3,m4" {
		t.Fatalf("expected the newest three oldest-first (m2,m3,m4), got %s", got)
	}

	msgs, err = svc.GetMessages(ctx, "+1", 0)
	if err != nil {
		t.Fatalf("get messages default: %v", err)
	}
	if got := bodies(msgs); got != "m0,m1,m2,m3,m4" {
		t.Fatalf("unexpected default page: %s", got)
	}
}

func TestService_GetMessagesUnknownContactIsEmpty(t *testing.T) {
	svc := mustNewService(t, NewInMemoryStore())

	msgs, err := svc.GetMessages(context.Background(), "+999", 10)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty page, got %d", len(msgs))
	}
}

func TestService_GetMessagesRejectsEmptyContact(t *testing.T) {
	svc := mustNewService(t, NewInMemoryStore())

	_, err := svc.GetMessages(context.Background(), "  ", 10)
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_GetMessagesPropagatesMarkReadFailure(t *testing.T) {
	st := &faultyStore{InMemoryStore: NewInMemoryStore(), markReadErr: storageErr("test", errors.New("down"))}
	p := mustNewPipeline(t, st, nil)
	svc := mustNewService(t, st)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, InboundMessage{Contact: "+1", Name: "A", Body: "x"}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	_, err := svc.GetMessages(ctx, "+1", 10)
	if !IsStorageUnavailable(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if got := mustUnread(t, st, "+1"); got != 1 {
		t.Fatalf("unread must be untouched, got %d", got)
	}
}

func TestService_GetMessagesListFailureSkipsMarkRead(t *testing.T) {
	st := &faultyStore{InMemoryStore: NewInMemoryStore()}
	p := mustNewPipeline(t, st, nil)
	svc := mustNewService(t, st)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, InboundMessage{Contact: "+1", Name: "A", Body: "x"}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	st.listErr = storageErr("test", errors.New("down"))

	if _, err := svc.GetMessages(ctx, "+1", 10); !IsStorageUnavailable(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if got := mustUnread(t, st, "+1"); got != 1 {
		t.Fatalf("expected unread=1, got %d", got)
	}
}

func TestService_DeleteThread(t *testing.T) {
	st := NewInMemoryStore()
	p := mustNewPipeline(t, st, nil)
	svc := mustNewService(t, st)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := p.Ingest(ctx, InboundMessage{Contact: "+1", Name: "A", Body: "x"}); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	if _, err := p.Ingest(ctx, InboundMessage{Contact: "+2", Name: "B", Body: "y"}); err != nil {
		t.Fatalf("ingest other: %v", err)
	}

	n, err := svc.DeleteThread(ctx, "+1")
	if err != nil {
		t.Fatalf("delete thread: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted messages, got %d", n)
	}

	msgs, _ := svc.GetMessages(ctx, "+1", 10)
	if len(msgs) != 0 {
		t.Fatalf("expected no messages after delete, got %d", len(msgs))
	}
	convs, _ := svc.ListConversations(ctx)
	if len(convs) != 1 || convs[0].Contact != "+2" {
		t.Fatalf("expected only +2 to remain, got %+v", convs)
	}

	n, err = svc.DeleteThread(ctx, "+unknown")
	if err != nil {
		t.Fatalf("delete unknown: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 for unknown contact, got %d", n)
	}
}

func TestService_DeleteThreadKeepsConversationWhenMessageDeleteFails(t *testing.T) {
	st := &faultyStore{InMemoryStore: NewInMemoryStore()}
	p := mustNewPipeline(t, st, nil)
	svc := mustNewService(t, st)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, InboundMessage{Contact: "+1", Name: "A", Body: "x"}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	st.deleteMsgsErr = storageErr("test", errors.New("down"))

	if _, err := svc.DeleteThread(ctx, "+1"); !IsStorageUnavailable(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	convs, _ := svc.ListConversations(ctx)
	if len(convs) != 1 {
		t.Fatalf("conversation row must survive a failed message delete")
	}
}

func TestService_ListConversationsSortedByRecency(t *testing.T) {
	st := NewInMemoryStore()
	p := mustNewPipeline(t, st, nil)
	svc := mustNewService(t, st)
	ctx := context.Background()
	base := testTime()

	for i, c := range []string{"+a", "+b", "+c"} {
		if _, err := p.Ingest(ctx, InboundMessage{Contact: c, Name: c, Body: "x", Timestamp: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("ingest %s: %v", c, err)
		}
	}
	// A newer message moves +a to the top.
	if _, err := p.Ingest(ctx, InboundMessage{Contact: "+a", Name: "+a", Body: "y", Timestamp: base.Add(time.Hour)}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	convs, err := svc.ListConversations(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"+a", "+c", "+b"}
	for i, c := range convs {
		if c.Contact != want[i] {
			t.Fatalf("position %d: expected %s got %s", i, want[i], c.Contact)
		}
		if i > 0 && convs[i-1].LastTimestamp.Before(c.LastTimestamp) {
			t.Fatalf("conversations not sorted by last timestamp desc")
		}
	}
}

func TestNormalizeLimit(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{-1, DefaultMessageLimit},
		{0, DefaultMessageLimit},
		{1, 1},
		{50, 50},
		{MaxMessageLimit, MaxMessageLimit},
		{MaxMessageLimit + 1, MaxMessageLimit},
	}
	for _, c := range cases {
		if got := NormalizeLimit(c.in); got != c.want {
			t.Fatalf("NormalizeLimit(%d): expected %d got %d", c.in, c.want, got)
		}
	}
}
