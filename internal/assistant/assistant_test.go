package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/conversation"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/library"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/models"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/profile"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/quota"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/storage"
	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
)

type stubSessions struct{ session models.Session }

func (s *stubSessions) Current() models.Session { return s.session }

func (s *stubSessions) Subscribe(func(models.Session)) func() { return func() {} }

type fakeCompleter struct {
	reply    []string
	err      error
	imageURL string
	lastSent []openai.ChatCompletionMessage
}

func (f *fakeCompleter) StreamText(ctx context.Context, messages []openai.ChatCompletionMessage, onFragment func(string)) (string, error) {
	f.lastSent = messages
	if f.err != nil {
		return "", f.err
	}
	for _, r := range f.reply {
		if onFragment != nil {
			onFragment(r)
		}
	}
	return strings.Join(f.reply, ""), nil
}

func (f *fakeCompleter) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.imageURL, nil
}

type fixture struct {
	assistant *Assistant
	quota     *quota.Engine
	library   *library.Library
	convs     *conversation.Manager
	completer *fakeCompleter
}

func newFixture(t *testing.T, session models.Session) *fixture {
	t.Helper()
	local := storage.NewMemoryLocalStore()
	remote := storage.NewMemoryStorage()
	sessions := &stubSessions{session: session}

	f := &fixture{
		quota:     quota.NewEngine(local, remote, sessions, nil),
		library:   library.New(local, remote, sessions, nil),
		convs:     conversation.NewManager(remote, local, sessions, nil),
		completer: &fakeCompleter{reply: []string{"Hook ", "one"}, imageURL: "https://img.example/x.png"},
	}
	profiles := profile.NewService(local, remote, sessions, nil)
	if _, err := profiles.Save(context.Background(), models.Profile{Niche: "baking"}); err != nil {
		t.Fatal(err)
	}
	f.assistant = New(f.quota, f.completer, f.library, profiles, f.convs, nil)
	return f
}

var guest = models.Session{AuthState: models.SignedOut}

func TestGenerateSavesAndCounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, guest)

	var fragments []string
	item, err := f.assistant.Generate(ctx, models.HookItem, "sourdough tips", func(s string) {
		fragments = append(fragments, s)
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(fragments) != 2 {
		t.Errorf("fragments = %q", fragments)
	}
	if item.Type != models.HookItem || item.Title != "sourdough tips" {
		t.Errorf("item = %+v", item)
	}
	if got := gjson.GetBytes(item.Payload, "text").String(); got != "Hook one" {
		t.Errorf("payload text = %q", got)
	}
	if !strings.Contains(f.completer.lastSent[0].Content, "baking") {
		t.Errorf("profile not used in prompt: %s", f.completer.lastSent[0].Content)
	}
	if got := f.quota.Usage(ctx, models.TextQuota).Count; got != 1 {
		t.Errorf("text count = %d, want 1", got)
	}
	items, _ := f.library.List(ctx)
	if len(items) != 1 || items[0].ID != item.ID {
		t.Errorf("library = %+v", items)
	}
}

func TestGenerateStopsAtQuota(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, guest)

	for i := 0; i < quota.MaxText; i++ {
		if _, err := f.assistant.Generate(ctx, models.CaptionItem, "x", nil); err != nil {
			t.Fatalf("Generate %d: %v", i, err)
		}
	}
	if _, err := f.assistant.Generate(ctx, models.CaptionItem, "x", nil); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("want ErrQuotaExceeded, got %v", err)
	}
}

func TestFailedGenerationIsNotCounted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, guest)
	f.completer.err = errors.New("upstream down")

	if _, err := f.assistant.Generate(ctx, models.ScriptItem, "x", nil); err == nil {
		t.Fatal("want error")
	}
	if got := f.quota.Usage(ctx, models.TextQuota).Count; got != 0 {
		t.Errorf("text count = %d, want 0", got)
	}
}

func TestGenerateImageAllowsOnePerDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, guest)

	item, err := f.assistant.GenerateImage(ctx, "cozy kitchen")
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if gjson.GetBytes(item.Payload, "url").String() != "https://img.example/x.png" {
		t.Errorf("payload = %s", item.Payload)
	}
	if _, err := f.assistant.GenerateImage(ctx, "again"); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("want ErrQuotaExceeded, got %v", err)
	}
}

func TestChatStartsConversationAndRecordsReply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.Session{AuthState: models.SignedIn, UserID: "u1"})

	reply, err := f.assistant.Chat(ctx, "How do I grow?", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply.Role != models.RoleAssistant || reply.Content != "Hook one" {
		t.Errorf("reply = %+v", reply)
	}
	conv, ok := f.convs.Current()
	if !ok || conv.Title != "How do I grow?" {
		t.Fatalf("current = %+v", conv)
	}
	msgs := f.convs.Messages()
	if len(msgs) != 2 || msgs[0].Role != models.RoleUser || msgs[1].ID != reply.ID {
		t.Errorf("messages = %+v", msgs)
	}
	// system prompt plus the user message
	if len(f.completer.lastSent) != 2 {
		t.Errorf("sent %d messages", len(f.completer.lastSent))
	}

	if _, err := f.assistant.Chat(ctx, "And then?", nil); err != nil {
		t.Fatal(err)
	}
	if len(f.convs.Conversations()) != 1 {
		t.Error("second chat should reuse the current conversation")
	}
	if len(f.completer.lastSent) != 4 {
		t.Errorf("history not sent: %d messages", len(f.completer.lastSent))
	}
}

func TestChatRequiresSignIn(t *testing.T) {
	f := newFixture(t, guest)
	if _, err := f.assistant.Chat(context.Background(), "hi", nil); !errors.Is(err, conversation.ErrSignedOut) {
		t.Errorf("want conversation.ErrSignedOut, got %v", err)
	}
}

func TestTitle(t *testing.T) {
	long := strings.Repeat("é", 80)
	tests := map[string]string{
		"  short  ":          "short",
		"first line\nsecond": "first line",
		long:                 strings.Repeat("é", titleLen-1) + "…",
	}
	for in, want := range tests {
		if got := title(in); got != want {
			t.Errorf("title(%q) = %q, want %q", in, got, want)
		}
	}
}
