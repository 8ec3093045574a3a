package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBuildPrompt(t *testing.T) {
	turns := []Turn{
		{User: "hi", Assistant: "Hello!"},
		{User: "how are you", Assistant: "Fine."},
	}
	tmpl := "Transcript:\n{history}\nUser: {input}\nReply:"

	got := BuildPrompt(tmpl, turns, "tell me a joke")
	want := "Transcript:\nHuman: hi\nAssistant: Hello!\nHuman: how are you\nAssistant: Fine.\nUser: tell me a joke\nReply:"
	if got != want {
		t.Errorf("BuildPrompt =\n%q\nwant\n%q", got, want)
	}
}

func TestBuildPromptEmptyTemplate(t *testing.T) {
	if got := BuildPrompt("", []Turn{{User: "a", Assistant: "b"}}, "plain"); got != "plain" {
		t.Errorf("BuildPrompt = %q, want input unchanged", got)
	}
}

func TestBuildPromptNoHistory(t *testing.T) {
	got := BuildPrompt("[{history}] {input}", nil, "x")
	if got != "[] x" {
		t.Errorf("BuildPrompt = %q", got)
	}
}

func TestMemoryStoreRecent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i, u := range []string{"one", "two", "three", "four"} {
		sid := "a"
		if i == 2 {
			sid = "b"
		}
		if err := s.Append(ctx, &Turn{SessionID: sid, User: u, Assistant: strings.ToUpper(u)}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	tests := []struct {
		name    string
		session string
		n       int
		want    []string
	}{
		{"all sessions", "", 2, []string{"three", "four"}},
		{"one session", "a", 2, []string{"two", "four"}},
		{"more than stored", "a", 10, []string{"one", "two", "four"}},
		{"zero", "", 0, nil},
		{"unknown session", "zzz", 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turns, err := s.Recent(ctx, tt.session, tt.n)
			if err != nil {
				t.Fatalf("Recent failed: %v", err)
			}
			if len(turns) != len(tt.want) {
				t.Fatalf("got %d turns, want %d", len(turns), len(tt.want))
			}
			for i, turn := range turns {
				if turn.User != tt.want[i] {
					t.Errorf("turn %d = %q, want %q", i, turn.User, tt.want[i])
				}
			}
		})
	}
}

func TestAppendAssignsIDs(t *testing.T) {
	s := NewMemoryStore()
	turn := &Turn{User: "u", Assistant: "a"}
	if err := s.Append(context.Background(), turn); err != nil {
		t.Fatal(err)
	}
	if turn.ID == "" {
		t.Error("ID not assigned")
	}
	if turn.CreatedAt.IsZero() {
		t.Error("CreatedAt not assigned")
	}
	if err := s.Append(context.Background(), nil); !errors.Is(err, ErrNilTurn) {
		t.Errorf("Append(nil) = %v", err)
	}
}

func TestJSONStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "history.json")

	s, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("NewJSONStore failed: %v", err)
	}
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := s.Append(ctx, &Turn{SessionID: "s1", User: "ping", Assistant: "pong", CreatedAt: created}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	s.Close()

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	reopened, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	turns, err := reopened.Recent(ctx, "s1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 || turns[0].Assistant != "pong" || !turns[0].CreatedAt.Equal(created) {
		t.Errorf("reloaded turns = %+v", turns)
	}
}

func TestJSONStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	os.WriteFile(path, []byte("{not json"), 0644)
	if _, err := NewJSONStore(path); err == nil {
		t.Error("Expected error for corrupt file")
	}
}

func TestJSONStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	s.Close()
	if err := s.Append(context.Background(), &Turn{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Append after Close = %v", err)
	}
	if _, err := s.Recent(context.Background(), "", 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Recent after Close = %v", err)
	}
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("VOICELOOP_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("VOICELOOP_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, url)
	if err != nil {
		t.Fatalf("OpenPostgres failed: %v", err)
	}
	defer s.Close()

	sid := NewSessionID()
	for _, u := range []string{"first", "second", "third"} {
		if err := s.Append(ctx, &Turn{SessionID: sid, User: u, Assistant: "ok"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	turns, err := s.Recent(ctx, sid, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(turns) != 2 || turns[0].User != "second" || turns[1].User != "third" {
		t.Errorf("Recent = %+v", turns)
	}
}

func TestOpenPostgresRequiresURL(t *testing.T) {
	if _, err := OpenPostgres(context.Background(), ""); !errors.Is(err, ErrNoDatabaseURL) {
		t.Errorf("Expected ErrNoDatabaseURL, got %v", err)
	}
}
