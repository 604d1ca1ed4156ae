package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

// runStoreContract exercises the behavior every Store backend must share.
// newStore returns a fresh, empty store; backends with coarse time resolution are
// covered because all timestamps used here are whole milliseconds.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("UpsertCreatesThenIncrements", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		contact := testContact()
		base := testTime()

		first, err := st.UpsertConversation(ctx, UpsertConversationInput{
			Contact: contact, Name: "Ana", LastBody: "hola", LastTimestamp: base,
		})
		if err != nil {
			t.Fatalf("upsert 1: %v", err)
		}
		if first.UnreadCount != 1 {
			t.Fatalf("upsert 1: expected unread=1 got=%d", first.UnreadCount)
		}

		var last Conversation
		for i := 2; i <= 3; i++ {
			last, err = st.UpsertConversation(ctx, UpsertConversationInput{
				Contact:       contact,
				Name:          fmt.Sprintf("Ana %d", i),
				LastBody:      fmt.Sprintf("m%d", i),
				LastTimestamp: base.Add(time.Duration(i) * time.Second),
			})
			if err != nil {
				t.Fatalf("upsert %d: %v", i, err)
			}
		}
		if last.UnreadCount != 3 {
			t.Fatalf("expected unread=3 got=%d", last.UnreadCount)
		}
		if last.Name != "Ana 3" || last.LastBody != "m3" {
			t.Fatalf("expected last fields overwritten, got name=%q body=%q", last.Name, last.LastBody)
		}
		if !last.LastTimestamp.Equal(base.Add(3 * time.Second)) {
			t.Fatalf("last timestamp mismatch: %s", last.LastTimestamp)
		}

		convs, err := st.ListConversations(ctx)
		if err != nil {
			t.Fatalf("list conversations: %v", err)
		}
		if len(convs) != 1 {
			t.Fatalf("expected exactly one conversation row, got %d", len(convs))
		}
	})

	t.Run("MarkReadResetsAndIgnoresUnknown", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		contact := testContact()

		for i := 0; i < 2; i++ {
			if _, err := st.UpsertConversation(ctx, UpsertConversationInput{
				Contact: contact, Name: "Ana", LastBody: "x", LastTimestamp: testTime(),
			}); err != nil {
				t.Fatalf("upsert: %v", err)
			}
		}
		if err := st.MarkRead(ctx, contact); err != nil {
			t.Fatalf("mark read: %v", err)
		}
		if got := mustUnread(t, st, contact); got != 0 {
			t.Fatalf("expected unread=0 after read, got %d", got)
		}

		if err := st.MarkRead(ctx, "unknown-"+testContact()); err != nil {
			t.Fatalf("mark read unknown: %v", err)
		}
		convs, err := st.ListConversations(ctx)
		if err != nil {
			t.Fatalf("list conversations: %v", err)
		}
		if len(convs) != 1 {
			t.Fatalf("mark read must not create rows, got %d", len(convs))
		}
	})

	t.Run("ListByContactNewestFirstWithLimit", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		contact := testContact()
		other := testContact()
		base := testTime()

		for i := 0; i < 5; i++ {
			if _, err := st.AppendMessage(ctx, AppendMessageInput{
				Contact:   contact,
				Name:      "Ana",
				Body:      fmt.Sprintf("m%d", i),
				Timestamp: base.Add(time.Duration(i) * time.Minute),
			}); err != nil {
				t.Fatalf("append %d: %v", i, err)
			}
		}
		if _, err := st.AppendMessage(ctx, AppendMessageInput{
			Contact: other, Name: "Bob", Body: "elsewhere", Timestamp: base,
		}); err != nil {
			t.Fatalf("append other: %v", err)
		}

		msgs, err := st.ListByContact(ctx, contact, 3)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if got := bodies(msgs); got != "m4,m3,m2" {
			t.Fatalf("expected newest-first m4,m3,m2 got %s", got)
		}
		for _, m := range msgs {
			if m.Contact != contact {
				t.Fatalf("foreign message leaked into list: %+v", m)
			}
			if m.ID == "" {
				t.Fatalf("expected non-empty id")
			}
		}

		all, err := st.ListByContact(ctx, contact, 0)
		if err != nil {
			t.Fatalf("list default: %v", err)
		}
		if len(all) != 5 {
			t.Fatalf("limit<=0 should use default, got %d msgs", len(all))
		}
		if !all[0].Timestamp.Equal(base.Add(4 * time.Minute)) {
			t.Fatalf("timestamp not preserved: %s", all[0].Timestamp)
		}

		none, err := st.ListByContact(ctx, "unknown-"+testContact(), 10)
		if err != nil {
			t.Fatalf("list unknown: %v", err)
		}
		if len(none) != 0 {
			t.Fatalf("expected empty list for unknown contact, got %d", len(none))
		}
	})

	t.Run("GetMessagesSortsOutOfOrderInserts", func(t *testing.T) {
		st := newStore(t)
		svc := mustNewService(t, st)
		ctx := testCtx(t)
		contact := testContact()
		base := testTime()

		for _, i := range []int{3, 0, 4, 1, 2} {
			if _, err := st.AppendMessage(ctx, AppendMessageInput{
				Contact:   contact,
				Name:      "Ana",
				Body:      fmt.Sprintf("m%d", i),
				Timestamp: base.Add(time.Duration(i) * time.Minute),
			}); err != nil {
				t.Fatalf("append %d: %v", i, err)
			}
		}

		msgs, err := svc.GetMessages(ctx, contact, 10)
		if err != nil {
			t.Fatalf("get messages: %v", err)
		}
		if got := bodies(msgs); got != "m0,m1,m2,m3,m4" {
			t.Fatalf("expected oldest-first m0..m4 got %s", got)
		}
		for i := 1; i < len(msgs); i++ {
			if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
				t.Fatalf("timestamps out of order at %d: %s before %s", i, msgs[i].Timestamp, msgs[i-1].Timestamp)
			}
		}
	})

	t.Run("GetMessagesDefaultLimitKeepsNewest", func(t *testing.T) {
		st := newStore(t)
		svc := mustNewService(t, st)
		ctx := testCtx(t)
		contact := testContact()
		base := testTime()

		const total = DefaultMessageLimit + 10
		for i := 0; i < total; i++ {
			if _, err := st.AppendMessage(ctx, AppendMessageInput{
				Contact:   contact,
				Name:      "Ana",
				Body:      fmt.Sprintf("m%d", i),
				Timestamp: base.Add(time.Duration(i) * time.Second),
			}); err != nil {
				t.Fatalf("append %d: %v", i, err)
			}
		}

		msgs, err := svc.GetMessages(ctx, contact, 0)
		if err != nil {
			t.Fatalf("get messages: %v", err)
		}
		if len(msgs) != DefaultMessageLimit {
			t.Fatalf("expected %d messages, got %d", DefaultMessageLimit, len(msgs))
		}
		if msgs[0].Body != "m10" || msgs[len(msgs)-1].Body != fmt.Sprintf("m%d", total-1) {
			t.Fatalf("expected m10..m%d, got %s..%s", total-1, msgs[0].Body, msgs[len(msgs)-1].Body)
		}
	})

	t.Run("TimestampsSurviveFullCalendarRange", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		contact := testContact()

		stamps := []time.Time{
			time.Date(1500, 6, 1, 12, 0, 0, 0, time.UTC),
			time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC),
			testTime(),
		}
		for i, ts := range stamps {
			if _, err := st.AppendMessage(ctx, AppendMessageInput{
				Contact: contact, Name: "Ana", Body: fmt.Sprintf("m%d", i), Timestamp: ts,
			}); err != nil {
				t.Fatalf("append %s: %v", ts, err)
			}
		}

		msgs, err := st.ListByContact(ctx, contact, 10)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if got := bodies(msgs); got != "m1,m2,m0" {
			t.Fatalf("expected newest-first m1,m2,m0 got %s", got)
		}
		for _, m := range msgs {
			var i int
			if _, err := fmt.Sscanf(m.Body, "m%d", &i); err != nil {
				t.Fatalf("unexpected body %q", m.Body)
			}
			if want := stamps[i]; !m.Timestamp.Equal(want) {
				t.Fatalf("%s: timestamp %s want %s", m.Body, m.Timestamp, want)
			}
		}

		c, err := st.UpsertConversation(ctx, UpsertConversationInput{
			Contact: contact, Name: "Ana", LastBody: "m1", LastTimestamp: stamps[1],
		})
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if !c.LastTimestamp.Equal(stamps[1]) {
			t.Fatalf("last timestamp %s want %s", c.LastTimestamp, stamps[1])
		}
	})

	t.Run("AppendReturnsStoredTimestamp", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		contact := testContact()

		msg, err := st.AppendMessage(ctx, AppendMessageInput{
			Contact: contact, Name: "Ana", Body: "x", Timestamp: testTime().Add(123456789 * time.Nanosecond),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}

		msgs, err := st.ListByContact(ctx, contact, 1)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(msgs) != 1 || msgs[0].ID != msg.ID {
			t.Fatalf("expected message %s, got %+v", msg.ID, msgs)
		}
		if !msgs[0].Timestamp.Equal(msg.Timestamp) {
			t.Fatalf("stored timestamp %s differs from returned %s", msgs[0].Timestamp, msg.Timestamp)
		}
	})

	t.Run("AppendAssignsFreshIDs", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		in := AppendMessageInput{Contact: testContact(), Name: "Ana", Body: "same", Timestamp: testTime()}

		a, err := st.AppendMessage(ctx, in)
		if err != nil {
			t.Fatalf("append a: %v", err)
		}
		b, err := st.AppendMessage(ctx, in)
		if err != nil {
			t.Fatalf("append b: %v", err)
		}
		if a.ID == b.ID {
			t.Fatalf("identical appends must get distinct ids, both %q", a.ID)
		}
		if a.IsReply {
			t.Fatalf("expected IsReply=false")
		}
	})

	t.Run("AppendRejectsMissingContact", func(t *testing.T) {
		st := newStore(t)
		_, err := st.AppendMessage(testCtx(t), AppendMessageInput{Name: "Ana", Body: "x", Timestamp: testTime()})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		contact := testContact()

		for i := 0; i < 2; i++ {
			if _, err := st.AppendMessage(ctx, AppendMessageInput{
				Contact: contact, Name: "Ana", Body: "x", Timestamp: testTime(),
			}); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
		if _, err := st.UpsertConversation(ctx, UpsertConversationInput{
			Contact: contact, Name: "Ana", LastBody: "x", LastTimestamp: testTime(),
		}); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		n, err := st.DeleteByContact(ctx, contact)
		if err != nil {
			t.Fatalf("delete messages: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2 deleted, got %d", n)
		}
		n, err = st.DeleteByContact(ctx, contact)
		if err != nil {
			t.Fatalf("delete messages again: %v", err)
		}
		if n != 0 {
			t.Fatalf("second delete should match nothing, got %d", n)
		}

		if err := st.DeleteConversation(ctx, contact); err != nil {
			t.Fatalf("delete conversation: %v", err)
		}
		if err := st.DeleteConversation(ctx, contact); err != nil {
			t.Fatalf("delete conversation again: %v", err)
		}
		convs, err := st.ListConversations(ctx)
		if err != nil {
			t.Fatalf("list conversations: %v", err)
		}
		if len(convs) != 0 {
			t.Fatalf("expected no conversations, got %d", len(convs))
		}
	})

	t.Run("ListConversationsByRecency", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		base := testTime()

		order := []struct {
			contact string
			offset  time.Duration
		}{
			{"c-old", 0},
			{"c-new", 2 * time.Hour},
			{"c-mid", time.Hour},
		}
		for _, o := range order {
			if _, err := st.UpsertConversation(ctx, UpsertConversationInput{
				Contact: o.contact, Name: o.contact, LastBody: "x", LastTimestamp: base.Add(o.offset),
			}); err != nil {
				t.Fatalf("upsert %s: %v", o.contact, err)
			}
		}

		convs, err := st.ListConversations(ctx)
		if err != nil {
			t.Fatalf("list conversations: %v", err)
		}
		var got []string
		for _, c := range convs {
			got = append(got, c.Contact)
		}
		if strings.Join(got, ",") != "c-new,c-mid,c-old" {
			t.Fatalf("expected recency order c-new,c-mid,c-old got %v", got)
		}
	})

	t.Run("ConcurrentUpsertsDoNotLoseIncrements", func(t *testing.T) {
		st := newStore(t)
		ctx := testCtx(t)
		contact := testContact()

		const k = 20
		var wg sync.WaitGroup
		errs := make(chan error, k)
		for i := 0; i < k; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := st.UpsertConversation(ctx, UpsertConversationInput{
					Contact:       contact,
					Name:          "Ana",
					LastBody:      fmt.Sprintf("m%d", i),
					LastTimestamp: testTime().Add(time.Duration(i) * time.Millisecond),
				})
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("concurrent upsert: %v", err)
			}
		}

		if got := mustUnread(t, st, contact); got != k {
			t.Fatalf("expected unread=%d got=%d", k, got)
		}
	})
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testContact() string {
	return "+1555" + strings.ToLower(ulid.Make().String()[18:])
}

func testTime() time.Time {
	return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
}

func bodies(msgs []Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.Body)
	}
	return strings.Join(parts, ",")
}

func mustUnread(t *testing.T, st ConversationStore, contact string) int64 {
	t.Helper()

	convs, err := st.ListConversations(testCtx(t))
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	for _, c := range convs {
		if c.Contact == contact {
			return c.UnreadCount
		}
	}
	t.Fatalf("conversation %q not found", contact)
	return 0
}
