package walletfleet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory IdentityStore.
type memStore struct {
	mu      sync.Mutex
	ids     []Identity
	loadErr error
	upserts int
}

func newMemStore(ids ...Identity) *memStore {
	return &memStore{ids: append([]Identity(nil), ids...)}
}

func (m *memStore) LoadAll(ctx context.Context) ([]Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]Identity(nil), m.ids...), nil
}

func (m *memStore) UpsertCredential(ctx context.Context, publicID, credential string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.ids {
		if m.ids[i].PublicID == publicID {
			m.ids[i].Credential = credential
			m.upserts++
			return nil
		}
	}
	return errors.New("not found")
}

func (m *memStore) Insert(ctx context.Context, id Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.ids {
		if existing.PublicID == id.PublicID {
			return errors.New("duplicate")
		}
	}
	m.ids = append(m.ids, id)
	return nil
}

func (m *memStore) credential(publicID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.ids {
		if id.PublicID == publicID {
			return id.Credential
		}
	}
	return ""
}

// fakeSigner returns "sig(<secret>)".
type fakeSigner struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (s *fakeSigner) Sign(secretKey, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	if s.err != nil {
		return "", s.err
	}
	return "sig(" + secretKey + ")", nil
}

// issueCall records one Issue invocation.
type issueCall struct {
	publicID, message, signature, referral string
}

type fakeIssuer struct {
	mu    sync.Mutex
	calls []issueCall
	fn    func(publicID string) (string, error)
}

func (f *fakeIssuer) Issue(ctx context.Context, publicID, message, signature, referralCode string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, issueCall{publicID, message, signature, referralCode})
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return "tok-" + publicID, nil
	}
	return fn(publicID)
}

func (f *fakeIssuer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeInvoker struct {
	mu    sync.Mutex
	calls int
	fn    func(credential string) ([]byte, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, credential string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return []byte(`{"data":{"totalTime":1.5}}`), nil
	}
	return fn(credential)
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeKeys struct {
	mu sync.Mutex
	n  int
}

func (k *fakeKeys) Generate() (string, string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.n++
	return "pub-" + string(rune('a'+k.n-1)), "sec-" + string(rune('a'+k.n-1)), nil
}

// recordingReporter keeps every frame it is given.
type recordingReporter struct {
	mu      sync.Mutex
	frames  [][]WalletStat
	empties []string
}

func (r *recordingReporter) Render(now time.Time, stats []WalletStat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, stats)
}

func (r *recordingReporter) Empty(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.empties = append(r.empties, message)
}

func (r *recordingReporter) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recordingReporter) lastFrame() []WalletStat {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[len(r.frames)-1]
}
