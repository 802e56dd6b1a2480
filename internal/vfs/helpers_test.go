package vfs

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/mediafs/internal/events"
	"github.com/fruitsalade/mediafs/internal/logging"
	"github.com/fruitsalade/mediafs/internal/storage"
	"github.com/fruitsalade/mediafs/internal/storage/local"
)

const acct = "acct42"

var errInjected = errors.New("injected failure")

func TestMain(m *testing.M) {
	logging.InitNop()
	os.Exit(m.Run())
}

// faultyBackend wraps a real backend and fails selected calls.
type faultyBackend struct {
	storage.Backend

	mu         sync.Mutex
	listCalls  []string
	listErr    error
	putErr     error
	deleteErr  error
	failDelete map[string]bool
	failMove   map[string]error // by old key
	moveCalls  int
	failMoveN  map[int]error // by 1-based call number
}

func newFaulty(inner storage.Backend) *faultyBackend {
	return &faultyBackend{
		Backend:    inner,
		failDelete: map[string]bool{},
		failMove:   map[string]error{},
		failMoveN:  map[int]error{},
	}
}

func (f *faultyBackend) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	return f.Backend.Put(ctx, key, body, size, contentType)
}

func (f *faultyBackend) ListChildren(ctx context.Context, prefix string) ([]storage.Object, error) {
	f.mu.Lock()
	f.listCalls = append(f.listCalls, prefix)
	err := f.listErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Backend.ListChildren(ctx, prefix)
}

func (f *faultyBackend) DeleteMany(ctx context.Context, keys []string) ([]string, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	var pass, failed []string
	for _, k := range keys {
		if f.failDelete[k] {
			failed = append(failed, k)
			continue
		}
		pass = append(pass, k)
	}
	more, err := f.Backend.DeleteMany(ctx, pass)
	if err != nil {
		return nil, err
	}
	return append(failed, more...), nil
}

func (f *faultyBackend) MoveOne(ctx context.Context, oldKey, newKey string) error {
	f.mu.Lock()
	f.moveCalls++
	n := f.moveCalls
	f.mu.Unlock()
	if err, ok := f.failMoveN[n]; ok {
		return err
	}
	if err, ok := f.failMove[oldKey]; ok {
		return err
	}
	return f.Backend.MoveOne(ctx, oldKey, newKey)
}

// memBackend is a flat key map listed the way S3 lists with a delimiter, so
// a leaf "a" and keys under "a/" can coexist.
type memBackend struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func newMem() *memBackend {
	return &memBackend{objs: map[string][]byte{}}
}

func (b *memBackend) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objs[key]; ok {
		return "", storage.ErrAlreadyExists
	}
	b.objs[key] = data
	return key, nil
}

func (b *memBackend) ListChildren(_ context.Context, prefix string) ([]storage.Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var objs []storage.Object
	prefixes := map[string]bool{}
	for k, v := range b.objs {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok || rest == "" {
			continue
		}
		if name, _, nested := strings.Cut(rest, storage.Delimiter); nested {
			if !prefixes[name] {
				prefixes[name] = true
				objs = append(objs, storage.Object{Name: name, IsContainer: true})
			}
			continue
		}
		objs = append(objs, storage.Object{Name: rest, Size: int64(len(v))})
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Name < objs[j].Name })
	return objs, nil
}

func (b *memBackend) DeleteMany(_ context.Context, keys []string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.objs, k)
	}
	return nil, nil
}

func (b *memBackend) MoveOne(_ context.Context, oldKey, newKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objs[oldKey]
	if !ok {
		return storage.ErrNotFound
	}
	if _, taken := b.objs[newKey]; taken {
		return storage.ErrAlreadyExists
	}
	b.objs[newKey] = data
	delete(b.objs, oldKey)
	return nil
}

func (b *memBackend) Type() string { return "mem" }

func (b *memBackend) Close() error { return nil }

func (b *memBackend) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objs[key]
	return ok
}

func newStore(t *testing.T) *local.LocalBackend {
	t.Helper()
	b, err := local.New(local.Config{RootPath: t.TempDir()})
	require.NoError(t, err)
	return b
}

func put(t *testing.T, store storage.Backend, key string, data []byte) {
	t.Helper()
	_, err := store.Put(context.Background(), key, bytes.NewReader(data), int64(len(data)), "")
	require.NoError(t, err)
}

func exists(t *testing.T, store storage.Backend, p Path) bool {
	t.Helper()
	objs, err := store.ListChildren(context.Background(), ListPrefix(acct, p.Parent()))
	require.NoError(t, err)
	for _, o := range objs {
		if o.Name == p.Name() {
			return true
		}
	}
	return false
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for i := 0; i < 16; i++ {
		img.Set(i, i, color.White)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(typ string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
