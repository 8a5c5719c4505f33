// ABOUTME: Test doubles for the relay: messenger, generator, usage recorder
// ABOUTME: Record every call so tests can assert on delivery and API traffic

package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/generation"
	"github.com/2389/coven-relay/internal/history"
	"github.com/2389/coven-relay/internal/notify"
	"github.com/2389/coven-relay/internal/prompt"
	"github.com/2389/coven-relay/internal/usage"
)

type post struct {
	To   Target
	Text string
}

type upload struct {
	To      Target
	Path    string
	Title   string
	Data    []byte
	Existed bool
}

// fakeMessenger records posts and uploads.
type fakeMessenger struct {
	mu        sync.Mutex
	posts     []post
	uploads   []upload
	parents   map[string]string
	parentLog []string
	uploadErr error
	postErr   error
}

func (m *fakeMessenger) PostMessage(_ context.Context, to Target, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return m.postErr
	}
	m.posts = append(m.posts, post{To: to, Text: text})
	return nil
}

func (m *fakeMessenger) UploadFile(_ context.Context, to Target, path, title string) error {
	data, err := os.ReadFile(path)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, upload{To: to, Path: path, Title: title, Data: data, Existed: err == nil})
	return m.uploadErr
}

func (m *fakeMessenger) ThreadParent(_ context.Context, conversationID, threadID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parentLog = append(m.parentLog, conversationID+"/"+threadID)
	return m.parents[threadID], nil
}

func (m *fakeMessenger) Posts() []post {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]post(nil), m.posts...)
}

func (m *fakeMessenger) Texts() []string {
	var out []string
	for _, p := range m.Posts() {
		out = append(out, p.Text)
	}
	return out
}

func (m *fakeMessenger) Uploads() []upload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]upload(nil), m.uploads...)
}

// fakeGenerator answers with configurable functions and records requests.
type fakeGenerator struct {
	mu          sync.Mutex
	chatCalls   [][]prompt.Message
	imageCalls  []imageCall
	chatFunc    func(msgs []prompt.Message) (generation.Result, error)
	imageResult generation.Result
	imageErr    error
}

type imageCall struct {
	Prompt, Model, Size string
}

func (g *fakeGenerator) Complete(_ context.Context, msgs []prompt.Message, _ string) (generation.Result, error) {
	g.mu.Lock()
	g.chatCalls = append(g.chatCalls, msgs)
	fn := g.chatFunc
	g.mu.Unlock()

	if fn == nil {
		return generation.Result{Status: generation.StatusOK, Text: "reply to " + msgs[len(msgs)-1].Content}, nil
	}
	return fn(msgs)
}

func (g *fakeGenerator) Image(_ context.Context, text, model, size string) (generation.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.imageCalls = append(g.imageCalls, imageCall{Prompt: text, Model: model, Size: size})
	return g.imageResult, g.imageErr
}

func (g *fakeGenerator) ChatCalls() [][]prompt.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]prompt.Message(nil), g.chatCalls...)
}

func (g *fakeGenerator) ImageCalls() []imageCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]imageCall(nil), g.imageCalls...)
}

// fakeUsage collects usage records.
type fakeUsage struct {
	mu      sync.Mutex
	records []*usage.Record
}

func (u *fakeUsage) Save(_ context.Context, rec *usage.Record) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.records = append(u.records, rec)
	return nil
}

func (u *fakeUsage) Records() []*usage.Record {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]*usage.Record(nil), u.records...)
}

// imageHost serves fixed bytes as a PNG.
func imageHost(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	relay     *Relay
	messenger *fakeMessenger
	generator *fakeGenerator
	history   *history.Store
	usage     *fakeUsage
	tempDir   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		messenger: &fakeMessenger{parents: map[string]string{}},
		generator: &fakeGenerator{},
		history:   history.NewStore(3),
		usage:     &fakeUsage{},
		tempDir:   t.TempDir(),
	}
	h.relay = New(h.messenger, h.generator, Options{
		Model:      "gpt-3.5-turbo",
		ImageModel: "dall-e-2",
		ImageSize:  "512x512",
		TempDir:    h.tempDir,
		History:    h.history,
		Assembler:  prompt.NewAssembler("You are a very direct and straight-to-the-point assistant.", 15*time.Minute),
		Gate:       notify.NewGate(15*time.Minute, nil),
		Usage:      h.usage,
	})
	return h
}

func (h *harness) requireTempDirEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.tempDir)
	require.NoError(t, err)
	require.Empty(t, entries, "temporary artifacts left behind")
}
