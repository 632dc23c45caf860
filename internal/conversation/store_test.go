package conversation

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCreateAssignsUUIDAndDefaultTitle(t *testing.T) {
	store := NewStore()
	summary := store.Create("")
	if _, err := uuid.Parse(summary.ID); err != nil {
		t.Fatalf("ID = %q is not a uuid: %v", summary.ID, err)
	}
	if summary.Title != DefaultTitle {
		t.Fatalf("Title = %q", summary.Title)
	}
	messages, ok := store.Messages(summary.ID)
	if !ok || len(messages) != 0 {
		t.Fatalf("Messages() = %v, %v", messages, ok)
	}
}

func TestAppendTitlesFromFirstUserMessage(t *testing.T) {
	store := NewStore()
	summary := store.Create("")

	store.Append(summary.ID, Message{Sender: SenderBot, Text: "Welcome!"})
	got := store.Append(summary.ID, Message{Sender: SenderUser, Text: "show me every laptop that is running low on stock"})
	if got.Title != "show me every laptop that is r..." {
		t.Fatalf("Title = %q", got.Title)
	}

	got = store.Append(summary.ID, Message{Sender: SenderUser, Text: "and suppliers"})
	if got.Title != "show me every laptop that is r..." {
		t.Fatalf("Title changed to %q", got.Title)
	}
}

func TestAppendTitleCountsRunes(t *testing.T) {
	store := NewStore()
	got := store.Append("", Message{Sender: SenderUser, Text: "ñññññññññññññññññññññññññññññññññ"})
	if got.Title != "ññññññññññññññññññññññññññññññ..." {
		t.Fatalf("Title = %q", got.Title)
	}
}

func TestAppendCreatesUnknownConversationUnderGivenID(t *testing.T) {
	store := NewStore()
	got := store.Append("client-chosen-id", Message{Sender: SenderUser, Text: "hi"})
	if got.ID != "client-chosen-id" || got.Title != "hi" {
		t.Fatalf("Append() = %+v", got)
	}
	messages, ok := store.Messages("client-chosen-id")
	if !ok || len(messages) != 1 {
		t.Fatalf("Messages() = %v, %v", messages, ok)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := NewStore()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	first := store.Create("first")
	second := store.Create("second")
	store.Append(first.ID, Message{Sender: SenderUser, Text: "bump"})

	list := store.List()
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("List() = %+v", list)
	}
}

func TestMessagesUnknownConversation(t *testing.T) {
	if _, ok := NewStore().Messages("missing"); ok {
		t.Fatal("expected missing conversation")
	}
}

func TestConcurrentAppend(t *testing.T) {
	store := NewStore()
	summary := store.Create("load")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Append(summary.ID, Message{Sender: SenderUser, Text: "x"})
			_ = store.List()
		}()
	}
	wg.Wait()
	messages, _ := store.Messages(summary.ID)
	if len(messages) != 50 {
		t.Fatalf("len(Messages()) = %d, want 50", len(messages))
	}
}
