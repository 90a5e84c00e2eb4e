package forwarder

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

const (
	srcChat = int64(-1001)
	dstChat = int64(-1002)
)

func fastSettings() Settings {
	return Settings{
		PollInterval:   5 * time.Millisecond,
		Backoff:        true,
		BackoffInitial: 5 * time.Millisecond,
		BackoffMax:     20 * time.Millisecond,
	}
}

func newTestForwarder(t *testing.T, client Client, settings Settings, recorder Recorder) *Forwarder {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	f := New(ctx, client, func() Settings { return settings }, recorder)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		if err := f.StopForwarding(stopCtx); err != nil {
			t.Errorf("StopForwarding: %v", err)
		}
		cancel()
	})
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestForwardKeywordScenario(t *testing.T) {
	client := newFakeClient()
	client.add(srcChat, 9, "before start")
	recorder := newFakeRecorder()
	f := newTestForwarder(t, client, fastSettings(), recorder)

	err := f.StartForwarding(context.Background(), Request{
		SourceChatId:      srcChat,
		DestinationChatId: dstChat,
		Keywords:          []string{"buy"},
	})
	if err != nil {
		t.Fatalf("StartForwarding: %v", err)
	}
	if got := f.Status().Cursor; got != 9 {
		t.Fatalf("primed cursor = %d, want 9", got)
	}

	client.add(srcChat, 10, "hello")
	client.add(srcChat, 11, "buy now")
	client.add(srcChat, 12, "ok")

	waitFor(t, "cursor 12", func() bool { return f.Status().Cursor == 12 })

	if got, want := client.sentTexts(), []string{"buy now"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
	status := f.Status()
	if status.Forwarded != 1 || status.Skipped != 2 {
		t.Errorf("status = %+v", status)
	}
	recorder.mu.Lock()
	if recorder.viewed[dstChat] != 3 || len(recorder.forwarded) != 1 {
		t.Errorf("recorder viewed=%v forwarded=%v", recorder.viewed, recorder.forwarded)
	}
	recorder.mu.Unlock()
}

func TestForwardWithoutKeywordsForwardsAllText(t *testing.T) {
	client := newFakeClient()
	client.add(srcChat, 1, "first")
	f := newTestForwarder(t, client, fastSettings(), nil)

	if err := f.StartForwarding(context.Background(), Request{SourceChatId: srcChat, DestinationChatId: dstChat}); err != nil {
		t.Fatal(err)
	}
	client.add(srcChat, 2, "anything")
	client.add(srcChat, 3, "") // photo without caption
	client.add(srcChat, 4, "ANY thing")

	waitFor(t, "cursor 4", func() bool { return f.Status().Cursor == 4 })

	if got, want := client.sentTexts(), []string{"anything", "ANY thing"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
}

func TestForwardBatchOrderAndCursor(t *testing.T) {
	client := newFakeClient()
	f := New(context.Background(), client, nil, nil)

	// newest first, with an out of order pair
	batch := []*Message{
		{Id: 12, Text: "c"},
		{Id: 10, Text: "a"},
		{Id: 11, Text: "b"},
	}
	cursor, err := f.forwardBatch(context.Background(), Request{DestinationChatId: dstChat}, 5, batch, fastSettings())
	if err != nil {
		t.Fatal(err)
	}
	if cursor != 12 {
		t.Fatalf("cursor = %d, want 12", cursor)
	}
	if got, want := client.sentTexts(), []string{"b", "a", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("sent %v, want %v (reverse of fetch order)", got, want)
	}

	// an older batch never moves the cursor back
	cursor, err = f.forwardBatch(context.Background(), Request{DestinationChatId: dstChat}, cursor, []*Message{{Id: 3, Text: "old"}}, fastSettings())
	if err != nil {
		t.Fatal(err)
	}
	if cursor != 12 {
		t.Fatalf("cursor = %d, want 12", cursor)
	}
}

func TestStartOnEmptyChat(t *testing.T) {
	client := newFakeClient()
	f := newTestForwarder(t, client, fastSettings(), nil)

	err := f.StartForwarding(context.Background(), Request{SourceChatId: srcChat, DestinationChatId: dstChat})
	if !errors.Is(err, ErrEmptyChat) {
		t.Fatalf("err = %v, want ErrEmptyChat", err)
	}
	if f.IsForwarding() {
		t.Fatal("no task should be running")
	}
	if connects, disconnects, fetches := client.counts(); connects != 1 || disconnects != 1 || fetches != 0 {
		t.Fatalf("connects=%d disconnects=%d fetches=%d", connects, disconnects, fetches)
	}
}

func TestStartLoginRequired(t *testing.T) {
	client := newFakeClient()
	client.connectErr = ErrLoginRequired
	f := newTestForwarder(t, client, fastSettings(), nil)

	err := f.StartForwarding(context.Background(), Request{SourceChatId: srcChat})
	if !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("err = %v, want ErrLoginRequired", err)
	}
}

func TestStopBeforeStart(t *testing.T) {
	client := newFakeClient()
	f := newTestForwarder(t, client, fastSettings(), nil)
	if err := f.StopForwarding(context.Background()); err != nil {
		t.Fatalf("StopForwarding: %v", err)
	}
	if connects, disconnects, _ := client.counts(); connects != 0 || disconnects != 0 {
		t.Fatalf("stop touched the session: connects=%d disconnects=%d", connects, disconnects)
	}
}

func TestStartTwiceIsRejected(t *testing.T) {
	client := newFakeClient()
	client.add(srcChat, 1, "x")
	f := newTestForwarder(t, client, fastSettings(), nil)

	req := Request{SourceChatId: srcChat, DestinationChatId: dstChat}
	if err := f.StartForwarding(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if err := f.StartForwarding(context.Background(), req); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second start err = %v, want ErrAlreadyRunning", err)
	}

	if err := f.StopForwarding(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.StartForwarding(context.Background(), req); err != nil {
		t.Fatalf("start after stop: %v", err)
	}
}

func TestStopWaitsForCleanup(t *testing.T) {
	client := newFakeClient()
	client.add(srcChat, 1, "x")
	f := newTestForwarder(t, client, Settings{PollInterval: time.Hour}, nil)

	if err := f.StartForwarding(context.Background(), Request{SourceChatId: srcChat, DestinationChatId: dstChat}); err != nil {
		t.Fatal(err)
	}
	<-client.fetched // the task is now sleeping

	if err := f.StopForwarding(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.IsForwarding() || f.Status().Forwarding {
		t.Fatal("task still marked as running")
	}
	if connects, disconnects, _ := client.counts(); connects != 1 || disconnects != 1 {
		t.Fatalf("connects=%d disconnects=%d", connects, disconnects)
	}
	if f.Status().LastError != "" {
		t.Fatalf("cancellation reported as error: %q", f.Status().LastError)
	}
}

func TestServiceShutdownCancelsTask(t *testing.T) {
	client := newFakeClient()
	client.add(srcChat, 1, "x")
	ctx, cancel := context.WithCancel(context.Background())
	f := New(ctx, client, func() Settings { return Settings{PollInterval: time.Hour} }, nil)

	if err := f.StartForwarding(context.Background(), Request{SourceChatId: srcChat, DestinationChatId: dstChat}); err != nil {
		t.Fatal(err)
	}
	<-client.fetched
	cancel()
	waitFor(t, "task exit", func() bool { return !f.IsForwarding() })
	if _, disconnects, _ := client.counts(); disconnects != 1 {
		t.Fatalf("disconnects = %d, want 1", disconnects)
	}
}

func TestFetchErrorWithoutBackoffEndsTask(t *testing.T) {
	client := newFakeClient()
	client.add(srcChat, 1, "x")
	client.setFetchErr(errors.New("FLOOD_WAIT"))
	settings := fastSettings()
	settings.Backoff = false
	f := newTestForwarder(t, client, settings, nil)

	if err := f.StartForwarding(context.Background(), Request{SourceChatId: srcChat, DestinationChatId: dstChat}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "task exit", func() bool { return !f.IsForwarding() })
	if f.Status().LastError == "" {
		t.Fatal("expected LastError to be recorded")
	}
}

func TestFetchErrorWithBackoffRecovers(t *testing.T) {
	client := newFakeClient()
	client.add(srcChat, 1, "x")
	client.setFetchErr(errors.New("timeout"))
	f := newTestForwarder(t, client, fastSettings(), nil)

	if err := f.StartForwarding(context.Background(), Request{SourceChatId: srcChat, DestinationChatId: dstChat}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "retries", func() bool { _, _, fetches := client.counts(); return fetches >= 3 })
	if !f.IsForwarding() {
		t.Fatal("task should keep retrying")
	}

	client.setFetchErr(nil)
	client.add(srcChat, 2, "after recovery")
	waitFor(t, "recovery", func() bool { return f.Status().Cursor == 2 })
	if got := client.sentTexts(); !reflect.DeepEqual(got, []string{"after recovery"}) {
		t.Fatalf("sent %v", got)
	}
}

func TestSendErrorSkip(t *testing.T) {
	client := newFakeClient()
	client.add(srcChat, 1, "x")
	client.sendErr["bad"] = errors.New("CHAT_WRITE_FORBIDDEN")
	f := newTestForwarder(t, client, fastSettings(), nil)

	if err := f.StartForwarding(context.Background(), Request{SourceChatId: srcChat, DestinationChatId: dstChat}); err != nil {
		t.Fatal(err)
	}
	client.add(srcChat, 2, "bad")
	client.add(srcChat, 3, "good")
	waitFor(t, "cursor 3", func() bool { return f.Status().Cursor == 3 })

	status := f.Status()
	if !status.Forwarding || status.Failed != 1 || status.Forwarded != 1 {
		t.Fatalf("status = %+v", status)
	}
	if got := client.sentTexts(); !reflect.DeepEqual(got, []string{"good"}) {
		t.Fatalf("sent %v", got)
	}
}

func TestSendErrorAbort(t *testing.T) {
	client := newFakeClient()
	client.add(srcChat, 1, "x")
	client.sendErr["bad"] = errors.New("CHAT_WRITE_FORBIDDEN")
	settings := fastSettings()
	settings.AbortOnSendError = true
	f := newTestForwarder(t, client, settings, nil)

	if err := f.StartForwarding(context.Background(), Request{SourceChatId: srcChat, DestinationChatId: dstChat}); err != nil {
		t.Fatal(err)
	}
	client.add(srcChat, 2, "bad")
	client.add(srcChat, 3, "good")
	waitFor(t, "task exit", func() bool { return !f.IsForwarding() })

	status := f.Status()
	if status.Cursor != 1 {
		t.Errorf("cursor = %d, want 1 (failed message not processed)", status.Cursor)
	}
	if status.LastError == "" {
		t.Error("expected LastError")
	}
	if got := client.sentTexts(); len(got) != 0 {
		t.Fatalf("sent %v", got)
	}
}

func TestListChats(t *testing.T) {
	client := newFakeClient()
	client.chats = []Chat{{Id: 1, Title: "A"}, {Id: 2, Title: "B"}}
	f := New(context.Background(), client, nil, nil)

	chats, err := f.ListChats(context.Background(), 100)
	if err != nil {
		t.Fatal(err)
	}
	if want := []Chat{{Id: 1, Title: "A"}, {Id: 2, Title: "B"}}; !reflect.DeepEqual(chats, want) {
		t.Fatalf("chats = %v, want %v", chats, want)
	}
	if connects, disconnects, _ := client.counts(); connects != 1 || disconnects != 1 {
		t.Fatalf("connects=%d disconnects=%d", connects, disconnects)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	client := newFakeClient()
	f := New(context.Background(), client, nil, nil)
	for i := 0; i < 3; i++ {
		if err := f.Connect(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := f.Disconnect(); err != nil {
			t.Fatal(err)
		}
	}
	if connects, disconnects, _ := client.counts(); connects != 1 || disconnects != 1 {
		t.Fatalf("connects=%d disconnects=%d", connects, disconnects)
	}
}

func TestShouldForward(t *testing.T) {
	tests := []struct {
		text     string
		keywords []string
		want     bool
	}{
		{"", nil, false},
		{"", []string{"buy"}, false},
		{"hello", nil, true},
		{"hello", []string{}, true},
		{"Buy Now", []string{"buy"}, true},
		{"hello", []string{"buy", "sell"}, false},
		{"please SELL", []string{"buy", "sell"}, true},
	}
	for _, tt := range tests {
		if got := shouldForward(&Message{Text: tt.text}, tt.keywords); got != tt.want {
			t.Errorf("shouldForward(%q, %v) = %t, want %t", tt.text, tt.keywords, got, tt.want)
		}
	}
}
