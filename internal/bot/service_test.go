package bot_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/Bilolbee/apkban/internal/bot"
)

// fakeTelegram serves one batch of update ids per getUpdates call and then
// empty long polls.
type fakeTelegram struct {
	batches [][]int

	mu       sync.Mutex
	calls    int
	offsets  []string
	sent     []string
	inFlight atomic.Int32
	maxIn    atomic.Int32
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = r.ParseForm()
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"b","username":"b"}}`)
	case strings.HasSuffix(r.URL.Path, "/getUpdates"):
		n := f.inFlight.Add(1)
		defer f.inFlight.Add(-1)
		for {
			prev := f.maxIn.Load()
			if n <= prev || f.maxIn.CompareAndSwap(prev, n) {
				break
			}
		}

		f.mu.Lock()
		call := f.calls
		f.calls++
		f.offsets = append(f.offsets, r.FormValue("offset"))
		f.mu.Unlock()

		if call < len(f.batches) {
			items := make([]string, 0, len(f.batches[call]))
			for _, id := range f.batches[call] {
				items = append(items, fmt.Sprintf(
					`{"update_id":%d,"message":{"message_id":%d,"date":%d,"chat":{"id":-100,"type":"group"},"from":{"id":7,"is_bot":false,"first_name":"Ann"},"text":"hi"}}`,
					id, id, time.Now().Unix()))
			}
			_, _ = io.WriteString(w, `{"ok":true,"result":[`+strings.Join(items, ",")+`]}`)
			return
		}
		time.Sleep(20 * time.Millisecond)
		_, _ = io.WriteString(w, `{"ok":true,"result":[]}`)
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		f.mu.Lock()
		f.sent = append(f.sent, r.FormValue("text"))
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":99,"date":0,"chat":{"id":-100,"type":"group"}}}`)
	default:
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	}
}

func (f *fakeTelegram) snapshot() (calls int, offsets, sent []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]string(nil), f.offsets...), append([]string(nil), f.sent...)
}

func startService(t *testing.T, fake *fakeTelegram, handler bot.Handler) *bot.Service {
	t.Helper()

	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	botAPI, err := api.NewBotAPIWithAPIEndpoint("TOKEN", srv.URL+"/bot%s/%s")
	if err != nil {
		t.Fatalf("new bot api: %v", err)
	}

	service := bot.NewService(botAPI, bot.NewUpdateProcessor(time.Minute, handler))
	if err := service.Start(context.Background()); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = service.Stop(ctx)
	})
	return service
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServicePollsAndStops(t *testing.T) {
	t.Parallel()

	fake := &fakeTelegram{batches: [][]int{{5}}}
	received := make(chan int64, 1)
	handler := bot.HandlerFunc(func(_ context.Context, _ *api.Update, chat *api.Chat, _ *api.User) (bool, error) {
		select {
		case received <- chat.ID:
		default:
		}
		return true, nil
	})
	service := startService(t, fake, handler)

	if err := service.Start(context.Background()); err == nil {
		t.Fatal("second start must fail")
	}

	select {
	case chatID := <-received:
		if chatID != -100 {
			t.Fatalf("unexpected chat id %d", chatID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("update was not delivered")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := service.Stop(stopCtx); err != nil {
		t.Fatalf("stop service: %v", err)
	}
	if err := service.Stop(stopCtx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestServiceSkipsUpdateWhenHandlerPanics(t *testing.T) {
	t.Parallel()

	fake := &fakeTelegram{batches: [][]int{{5}, {6}}}
	var mu sync.Mutex
	seen := map[int]int{}
	handler := bot.HandlerFunc(func(_ context.Context, u *api.Update, _ *api.Chat, _ *api.User) (bool, error) {
		mu.Lock()
		seen[u.UpdateID]++
		mu.Unlock()
		if u.UpdateID == 5 {
			panic("boom")
		}
		return true, nil
	})
	startService(t, fake, handler)

	waitFor(t, "polling past the panicking update", func() bool {
		calls, _, _ := fake.snapshot()
		return calls >= 4
	})

	mu.Lock()
	defer mu.Unlock()
	if seen[5] != 1 {
		t.Fatalf("update 5 handled %d times, want 1", seen[5])
	}
	if seen[6] != 1 {
		t.Fatalf("update 6 handled %d times, want 1", seen[6])
	}

	_, offsets, _ := fake.snapshot()
	if offsets[1] != "6" {
		t.Fatalf("offset after update 5 = %q, want 6 (all offsets %v)", offsets[1], offsets)
	}
	for i, offset := range offsets[2:] {
		if offset != "7" {
			t.Fatalf("offset of call %d = %q, want 7 (all offsets %v)", i+2, offset, offsets)
		}
	}
	if got := fake.maxIn.Load(); got > 1 {
		t.Fatalf("%d getUpdates requests were in flight at once", got)
	}
}

func TestServiceRepliesWhenHandlerFails(t *testing.T) {
	t.Parallel()

	fake := &fakeTelegram{batches: [][]int{{5}}}
	handler := bot.HandlerFunc(func(_ context.Context, _ *api.Update, _ *api.Chat, _ *api.User) (bool, error) {
		return false, errors.New("storage is down")
	})
	startService(t, fake, handler)

	waitFor(t, "failure reply", func() bool {
		_, _, sent := fake.snapshot()
		return len(sent) > 0
	})

	_, _, sent := fake.snapshot()
	if len(sent) != 1 || !strings.Contains(sent[0], "An error occurred") {
		t.Fatalf("unexpected replies %q", sent)
	}
}
