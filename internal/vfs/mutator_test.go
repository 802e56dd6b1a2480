package vfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/mediafs/internal/events"
	"github.com/fruitsalade/mediafs/internal/optimizer"
	"github.com/fruitsalade/mediafs/internal/storage"
)

func newMutator(store storage.Backend, pub Publisher) *Mutator {
	return NewMutator(store, optimizer.New(2), pub, nil, Options{MaxUploadSize: 20 << 20, MaxFiles: 25, Concurrency: 2})
}

func TestCreateFolder(t *testing.T) {
	store := newStore(t)
	rec := &recorder{}
	m := newMutator(store, rec)
	ctx := context.Background()

	f, err := m.CreateFolder(ctx, acct, Root, "Trips")
	require.NoError(t, err)
	assert.Equal(t, "/Trips", f.Path.String())
	assert.True(t, f.ParentPath.IsRoot())
	assert.True(t, exists(t, store, MustParsePath("/Trips/.keep")))
	assert.Len(t, rec.ofType(events.EventCreate), 1)

	_, err = m.CreateFolder(ctx, acct, Root, "Trips")
	assert.ErrorIs(t, err, ErrDuplicateName)

	listing, err := NewLister(store, nil).List(ctx, acct, MustParsePath("/Trips"))
	require.NoError(t, err)
	assert.Empty(t, listing.Files)
	assert.Empty(t, listing.Folders)
}

func TestCreateFolderInvalidNameNeverReachesStore(t *testing.T) {
	store := newFaulty(newStore(t))
	store.putErr = errors.New("store must not be called")
	m := newMutator(store, nil)

	_, err := m.CreateFolder(context.Background(), acct, Root, "bad name")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestCreateFolderStoreFailure(t *testing.T) {
	store := newFaulty(newStore(t))
	store.putErr = errInjected
	m := newMutator(store, nil)

	_, err := m.CreateFolder(context.Background(), acct, Root, "Trips")
	assert.ErrorIs(t, err, ErrCreateFailed)
	assert.ErrorIs(t, err, errInjected)
}

// An oversized JPEG under the web preset lands optimized with a public URL.
func TestUploadLargeJPEGWithWebPreset(t *testing.T) {
	store := newStore(t)
	m := newMutator(store, nil)
	ctx := context.Background()

	trips, err := m.CreateFolder(ctx, acct, Root, "Trips")
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	img := image.NewRGBA(image.Rect(0, 0, 1800, 1800))
	rng.Read(img.Pix)
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}))
	require.Greater(t, int64(buf.Len()), optimizer.Web.MaxBytes)

	var last optimizer.Progress
	res, err := m.Upload(ctx, acct, trips.Path, []optimizer.File{{Name: "beach.jpg", Data: buf.Bytes()}}, optimizer.Web, func(p optimizer.Progress) {
		last = p
	})
	require.NoError(t, err)
	require.NoError(t, res.Err())
	require.Len(t, res.Items, 1)
	require.NotNil(t, res.Items[0].File)
	assert.LessOrEqual(t, res.Items[0].File.Size, optimizer.Web.MaxBytes)
	assert.Equal(t, "image/jpeg", res.Items[0].File.MimeType)
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, optimizer.StatusCompleted, last.Status)

	listing, err := NewLister(store, nil).List(ctx, acct, trips.Path)
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	assert.Empty(t, listing.Folders)
	assert.Equal(t, "beach.jpg", listing.Files[0].Name)
	assert.LessOrEqual(t, listing.Files[0].Size, optimizer.Web.MaxBytes)
}

func TestUploadPerFileFailures(t *testing.T) {
	store := newStore(t)
	rec := &recorder{}
	m := NewMutator(store, nil, rec, PublicURL("http://media"), Options{MaxUploadSize: 1 << 10, MaxFiles: 25, Concurrency: 2})
	ctx := context.Background()
	dir := MustParsePath("/Trips")
	img := pngBytes(t)
	put(t, store, "acct42/Trips/taken.png", img)

	files := []optimizer.File{
		{Name: "ok.png", Data: img},
		{Name: "huge.png", Data: bytes.Repeat([]byte{0}, 2<<10)},
		{Name: "notes.txt", Data: []byte("hello, world")},
		{Name: "taken.png", Data: img},
		{Name: "a/b.png", Data: img},
	}
	res, err := m.Upload(ctx, acct, dir, files, optimizer.Web, nil)
	require.NoError(t, err)
	require.Len(t, res.Items, 5)

	assert.NoError(t, res.Items[0].Err)
	require.NotNil(t, res.Items[0].File)
	assert.Equal(t, "http://media/acct42/Trips/ok.png", res.Items[0].File.URL)
	assert.ErrorIs(t, res.Items[1].Err, ErrFileTooLarge)
	assert.Contains(t, res.Items[1].Err.Error(), "huge.png")
	assert.ErrorIs(t, res.Items[2].Err, ErrNotImage)
	assert.ErrorIs(t, res.Items[3].Err, ErrDuplicateName)
	assert.ErrorIs(t, res.Items[4].Err, ErrInvalidName)

	err = res.Err()
	assert.ErrorIs(t, err, ErrPartialBatchFailure)
	var pbe *PartialBatchError
	require.ErrorAs(t, err, &pbe)
	assert.Len(t, pbe.Failed, 4)
	assert.Equal(t, 5, pbe.Total)
	assert.Len(t, res.Succeeded(), 1)

	assert.True(t, exists(t, store, MustParsePath("/Trips/ok.png")))
	assert.False(t, exists(t, store, MustParsePath("/Trips/huge.png")))
	assert.Len(t, rec.ofType(events.EventCreate), 1)
	assert.NotEmpty(t, rec.ofType(events.EventProgress))
}

func TestUploadTooManyFiles(t *testing.T) {
	store := newFaulty(newStore(t))
	store.putErr = errors.New("store must not be called")
	m := newMutator(store, nil)

	files := make([]optimizer.File, 26)
	for i := range files {
		files[i] = optimizer.File{Name: fmt.Sprintf("f%d.png", i), Data: pngBytes(t)}
	}
	res, err := m.Upload(context.Background(), acct, Root, files, optimizer.Web, nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrTooManyFiles)
}

func TestUploadStoreFailureIsPerFile(t *testing.T) {
	store := newFaulty(newStore(t))
	store.putErr = errInjected
	m := newMutator(store, nil)

	res, err := m.Upload(context.Background(), acct, Root, []optimizer.File{
		{Name: "a.png", Data: pngBytes(t)},
		{Name: "b.png", Data: pngBytes(t)},
	}, optimizer.Web, nil)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	for _, it := range res.Items {
		assert.ErrorIs(t, it.Err, errInjected)
	}
}

func TestUploadCorruptImageStoresOriginal(t *testing.T) {
	store := newStore(t)
	m := newMutator(store, nil)
	// A PNG signature followed by garbage sniffs as an image but cannot decode.
	data := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{1}, 64)...)

	res, err := m.Upload(context.Background(), acct, Root, []optimizer.File{{Name: "odd.png", Data: data}}, optimizer.Thumb, nil)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, int64(len(data)), res.Items[0].File.Size)
}

// Deleting a folder removes every leaf under it, marker included.
func TestDeleteFolderSubtree(t *testing.T) {
	store := newStore(t)
	rec := &recorder{}
	m := newMutator(store, rec)
	ctx := context.Background()

	trips, err := m.CreateFolder(ctx, acct, Root, "Trips")
	require.NoError(t, err)
	paris, err := m.CreateFolder(ctx, acct, trips.Path, "Paris")
	require.NoError(t, err)
	res, err := m.Upload(ctx, acct, paris.Path, []optimizer.File{
		{Name: "one.png", Data: pngBytes(t)},
		{Name: "two.png", Data: pngBytes(t)},
	}, optimizer.Web, nil)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	keys, err := NewCollector(store).CollectLeaves(ctx, acct, trips.Path)
	require.NoError(t, err)
	assert.Len(t, keys, 4)

	del, err := m.Delete(ctx, acct, []Item{{Path: trips.Path, Kind: KindFolder}})
	require.NoError(t, err)
	require.NoError(t, del.Err())

	listing, err := NewLister(store, nil).List(ctx, acct, Root)
	require.NoError(t, err)
	assert.Empty(t, listing.Paths())

	left, err := NewCollector(store).CollectLeaves(ctx, acct, trips.Path)
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.Len(t, rec.ofType(events.EventDelete), 1)
}

func TestDeleteFolderLeavesSiblingsAlone(t *testing.T) {
	store := newStore(t)
	m := newMutator(store, nil)
	ctx := context.Background()
	put(t, store, "acct42/Trips/.keep", nil)
	put(t, store, "acct42/Trips/Paris/a.jpg", []byte("a"))
	put(t, store, "acct42/Tripsy.jpg", []byte("stay"))
	put(t, store, "acct42/TripsOld/b.jpg", []byte("stay"))
	put(t, store, "acct42/Keep/Trips/c.jpg", []byte("stay"))

	res, err := m.Delete(ctx, acct, []Item{{Path: MustParsePath("/Trips"), Kind: KindFolder}})
	require.NoError(t, err)
	require.NoError(t, res.Err())

	listing, err := NewLister(store, nil).List(ctx, acct, Root)
	require.NoError(t, err)
	names := []string{}
	for _, p := range listing.Paths() {
		names = append(names, p.String())
	}
	assert.ElementsMatch(t, []string{"/Keep", "/TripsOld", "/Tripsy.jpg"}, names)
	assert.True(t, exists(t, store, MustParsePath("/Keep/Trips/c.jpg")))
}

func TestDeleteMergesIntoOneCall(t *testing.T) {
	inner := newStore(t)
	store := &countingDeletes{faultyBackend: newFaulty(inner)}
	m := newMutator(store, nil)
	put(t, inner, "acct42/A/.keep", nil)
	put(t, inner, "acct42/A/x.jpg", []byte("x"))
	put(t, inner, "acct42/b.jpg", []byte("b"))

	res, err := m.Delete(context.Background(), acct, []Item{
		{Path: MustParsePath("/A"), Kind: KindFolder},
		{Path: MustParsePath("/b.jpg"), Kind: KindFile},
		{Path: MustParsePath("/A/x.jpg"), Kind: KindFile},
	})
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, 1, store.calls)
	assert.Len(t, store.keys, 3)
}

type countingDeletes struct {
	*faultyBackend
	calls int
	keys  []string
}

func (c *countingDeletes) DeleteMany(ctx context.Context, keys []string) ([]string, error) {
	c.calls++
	c.keys = append(c.keys, keys...)
	return c.faultyBackend.DeleteMany(ctx, keys)
}

func TestDeletePartialFailure(t *testing.T) {
	store := newFaulty(newStore(t))
	m := newMutator(store, nil)
	put(t, store, "acct42/A/.keep", nil)
	put(t, store, "acct42/A/x.jpg", []byte("x"))
	put(t, store, "acct42/b.jpg", []byte("b"))
	put(t, store, "acct42/c.jpg", []byte("c"))
	store.failDelete["acct42/A/x.jpg"] = true

	res, err := m.Delete(context.Background(), acct, []Item{
		{Path: MustParsePath("/A"), Kind: KindFolder},
		{Path: MustParsePath("/b.jpg"), Kind: KindFile},
		{Path: Root, Kind: KindFolder},
		{Path: MustParsePath("/c.jpg"), Kind: KindFile},
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 4)
	assert.ErrorIs(t, res.Items[0].Err, ErrDeleteFailed)
	assert.NoError(t, res.Items[1].Err)
	assert.ErrorIs(t, res.Items[2].Err, ErrInvalidName)
	assert.NoError(t, res.Items[3].Err)
	assert.ErrorIs(t, res.Err(), ErrPartialBatchFailure)

	assert.True(t, exists(t, store, MustParsePath("/A/x.jpg")))
	assert.False(t, exists(t, store, MustParsePath("/b.jpg")))
	assert.False(t, exists(t, store, MustParsePath("/c.jpg")))
}

func TestDeleteStoreUnreachable(t *testing.T) {
	store := newFaulty(newStore(t))
	store.deleteErr = errInjected
	m := newMutator(store, nil)

	res, err := m.Delete(context.Background(), acct, []Item{{Path: MustParsePath("/b.jpg"), Kind: KindFile}})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestRenameFile(t *testing.T) {
	store := newStore(t)
	rec := &recorder{}
	m := newMutator(store, rec)
	put(t, store, "acct42/Trips/photo", []byte("p"))

	got, err := m.Rename(context.Background(), acct, Item{Path: MustParsePath("/Trips/photo"), Kind: KindFile}, "newname")
	require.NoError(t, err)
	assert.Equal(t, "/Trips/newname", got.String())
	assert.True(t, exists(t, store, got))
	assert.False(t, exists(t, store, MustParsePath("/Trips/photo")))

	moves := rec.ofType(events.EventMove)
	require.Len(t, moves, 1)
	assert.Equal(t, "/Trips/photo", moves[0].Path)
	assert.Equal(t, "/Trips/newname", moves[0].NewPath)
}

// Renaming onto a taken name fails and leaves both files in place.
func TestRenameOntoExistingName(t *testing.T) {
	store := newStore(t)
	m := newMutator(store, nil)
	put(t, store, "acct42/a.jpg", []byte("original"))
	put(t, store, "acct42/b.jpg", []byte("other"))

	_, err := m.Rename(context.Background(), acct, Item{Path: MustParsePath("/a.jpg"), Kind: KindFile}, "b.jpg")
	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.ErrorIs(t, err, ErrMoveFailed)

	assert.True(t, exists(t, store, MustParsePath("/a.jpg")))
	objs, err := store.ListChildren(context.Background(), "acct42/")
	require.NoError(t, err)
	for _, o := range objs {
		if o.Name == "a.jpg" {
			assert.Equal(t, int64(len("original")), o.Size)
		}
	}
}

func TestRenameInvalidName(t *testing.T) {
	m := newMutator(newStore(t), nil)
	_, err := m.Rename(context.Background(), acct, Item{Path: MustParsePath("/a.jpg"), Kind: KindFile}, "no good")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = m.Rename(context.Background(), acct, Item{Path: MustParsePath("/A"), Kind: KindFolder}, "x.jpg")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestRenameFolderRelocatesSubtree(t *testing.T) {
	store := newStore(t)
	m := newMutator(store, nil)
	ctx := context.Background()
	put(t, store, "acct42/Trips/.keep", nil)
	put(t, store, "acct42/Trips/a.jpg", []byte("a"))
	put(t, store, "acct42/Trips/Paris/.keep", nil)
	put(t, store, "acct42/Trips/Paris/b.jpg", []byte("b"))

	got, err := m.Rename(ctx, acct, Item{Path: MustParsePath("/Trips"), Kind: KindFolder}, "Travel")
	require.NoError(t, err)
	assert.Equal(t, "/Travel", got.String())

	keys, err := NewCollector(store).CollectLeaves(ctx, acct, got)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"acct42/Travel/.keep",
		"acct42/Travel/a.jpg",
		"acct42/Travel/Paris/.keep",
		"acct42/Travel/Paris/b.jpg",
	}, keys)
	assert.False(t, exists(t, store, MustParsePath("/Trips")))
}

func TestFolderMoveRollsBackOnFailure(t *testing.T) {
	store := newFaulty(newStore(t))
	m := newMutator(store, nil)
	ctx := context.Background()
	put(t, store, "acct42/Trips/.keep", nil)
	put(t, store, "acct42/Trips/a.jpg", []byte("a"))
	put(t, store, "acct42/Trips/b.jpg", []byte("b"))
	store.failMoveN[2] = errInjected

	_, err := m.Rename(ctx, acct, Item{Path: MustParsePath("/Trips"), Kind: KindFolder}, "Travel")
	assert.ErrorIs(t, err, ErrMoveFailed)

	keys, err := NewCollector(store).CollectLeaves(ctx, acct, MustParsePath("/Trips"))
	require.NoError(t, err)
	assert.Len(t, keys, 3)
	assert.False(t, exists(t, store, MustParsePath("/Travel")))
}

func TestMoveItems(t *testing.T) {
	store := newStore(t)
	m := newMutator(store, nil)
	ctx := context.Background()
	put(t, store, "acct42/a.jpg", []byte("a"))
	put(t, store, "acct42/b.jpg", []byte("b"))
	put(t, store, "acct42/Album/.keep", nil)
	put(t, store, "acct42/Album/c.jpg", []byte("c"))
	dest := MustParsePath("/Archive/2024")

	res, err := m.Move(ctx, acct, []MoveItem{
		{Path: MustParsePath("/a.jpg"), Kind: KindFile},
		{Path: MustParsePath("/b.jpg"), Name: "b.jpg", Kind: KindFile},
		{Path: MustParsePath("/Album"), Kind: KindFolder},
	}, dest)
	require.NoError(t, err)
	require.NoError(t, res.Err())

	for _, it := range res.Items {
		assert.True(t, exists(t, store, it.Target), it.Target.String())
		assert.False(t, exists(t, store, it.Path), it.Path.String())
		assert.True(t, it.Target.Parent().Equal(dest))
	}
	assert.True(t, exists(t, store, MustParsePath("/Archive/2024/Album/c.jpg")))
}

// One rejected item does not stop the rest of the move batch.
func TestMoveSecondItemRejected(t *testing.T) {
	store := newFaulty(newStore(t))
	m := newMutator(store, nil)
	for _, n := range []string{"one.jpg", "two.jpg", "three.jpg"} {
		put(t, store, "acct42/"+n, []byte(n))
	}
	store.failMove["acct42/two.jpg"] = errInjected
	dest := MustParsePath("/Dest")

	res, err := m.Move(context.Background(), acct, []MoveItem{
		{Path: MustParsePath("/one.jpg"), Kind: KindFile},
		{Path: MustParsePath("/two.jpg"), Kind: KindFile},
		{Path: MustParsePath("/three.jpg"), Kind: KindFile},
	}, dest)
	require.NoError(t, err)
	require.Len(t, res.Items, 3)

	assert.NoError(t, res.Items[0].Err)
	assert.ErrorIs(t, res.Items[1].Err, ErrMoveFailed)
	assert.NoError(t, res.Items[2].Err)

	var pbe *PartialBatchError
	require.ErrorAs(t, res.Err(), &pbe)
	require.Len(t, pbe.Failed, 1)
	assert.Equal(t, "/two.jpg", pbe.Failed[0].Path.String())

	assert.True(t, exists(t, store, MustParsePath("/two.jpg")))
	assert.True(t, exists(t, store, MustParsePath("/Dest/one.jpg")))
	assert.True(t, exists(t, store, MustParsePath("/Dest/three.jpg")))
}

func TestMoveFolderIntoItself(t *testing.T) {
	store := newStore(t)
	m := newMutator(store, nil)
	put(t, store, "acct42/A/.keep", nil)
	put(t, store, "acct42/A/B/.keep", nil)

	res, err := m.Move(context.Background(), acct, []MoveItem{
		{Path: MustParsePath("/A"), Kind: KindFolder},
		{Path: Root, Kind: KindFolder},
	}, MustParsePath("/A/B"))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Items[0].Err, ErrInvalidMove)
	assert.ErrorIs(t, res.Items[1].Err, ErrInvalidMove)
	assert.True(t, exists(t, store, MustParsePath("/A/B/.keep")))
}

func TestMoveFolderOntoNonEmptyDestination(t *testing.T) {
	store := newStore(t)
	m := newMutator(store, nil)
	put(t, store, "acct42/A/.keep", nil)
	put(t, store, "acct42/Dest/A/x.jpg", []byte("x"))

	res, err := m.Move(context.Background(), acct, []MoveItem{{Path: MustParsePath("/A"), Kind: KindFolder}}, MustParsePath("/Dest"))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Items[0].Err, ErrDuplicateName)
	assert.True(t, exists(t, store, MustParsePath("/A/.keep")))
}

func TestBatchResultJSON(t *testing.T) {
	res := &BatchResult{Operation: "move", Items: []ItemResult{
		{Path: MustParsePath("/a.jpg"), Target: MustParsePath("/D/a.jpg")},
		{Path: MustParsePath("/b.jpg"), Err: ErrMoveFailed},
	}}
	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"operation":"move","items":[
		{"path":"/a.jpg","target":"/D/a.jpg","ok":true},
		{"path":"/b.jpg","ok":false,"error":"move failed"}]}`, string(b))

	var back BatchResult
	require.NoError(t, json.Unmarshal(b, &back))
	require.Len(t, back.Items, 2)
	assert.True(t, back.Items[0].OK())
	assert.Equal(t, "/D/a.jpg", back.Items[0].Target.String())
	assert.EqualError(t, back.Items[1].Err, "move failed")
}

func TestCreateFolderOverFileOfSameName(t *testing.T) {
	store := newMem()
	m := newMutator(store, nil)
	put(t, store, "acct42/Trips", pngBytes(t))

	_, err := m.CreateFolder(context.Background(), acct, Root, "Trips")
	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.False(t, store.has("acct42/Trips/.keep"))
}

func TestUploadOverFolderOfSameName(t *testing.T) {
	store := newMem()
	m := newMutator(store, nil)
	ctx := context.Background()
	_, err := m.CreateFolder(ctx, acct, Root, "Trips")
	require.NoError(t, err)

	res, err := m.Upload(ctx, acct, Root, []optimizer.File{
		{Name: "Trips", Data: pngBytes(t)},
		{Name: "ok.png", Data: pngBytes(t)},
	}, optimizer.Web, nil)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.ErrorIs(t, res.Items[0].Err, ErrDuplicateName)
	assert.NoError(t, res.Items[1].Err)
	assert.False(t, store.has("acct42/Trips"))

	listing, err := NewLister(store, nil).List(ctx, acct, Root)
	require.NoError(t, err)
	assert.Len(t, listing.Folders, 1)
	require.Len(t, listing.Files, 1)
	assert.Equal(t, "ok.png", listing.Files[0].Name)
}

func TestUploadStoreUnreachableBeforeWrite(t *testing.T) {
	store := newFaulty(newStore(t))
	store.listErr = errInjected
	store.putErr = errors.New("store must not be called")
	m := newMutator(store, nil)

	res, err := m.Upload(context.Background(), acct, Root, []optimizer.File{{Name: "a.png", Data: pngBytes(t)}}, optimizer.Web, nil)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.ErrorIs(t, res.Items[0].Err, ErrStoreUnavailable)
}

func TestMoveOntoNameOfOtherKind(t *testing.T) {
	store := newMem()
	m := newMutator(store, nil)
	put(t, store, "acct42/A/.keep", nil)
	put(t, store, "acct42/A/a.jpg", []byte("a"))
	put(t, store, "acct42/Dest/A", []byte("file"))
	put(t, store, "acct42/x.jpg", []byte("x"))
	put(t, store, "acct42/Dest/x.jpg/.keep", nil)

	res, err := m.Move(context.Background(), acct, []MoveItem{
		{Path: MustParsePath("/A"), Kind: KindFolder},
		{Path: MustParsePath("/x.jpg"), Kind: KindFile},
	}, MustParsePath("/Dest"))
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	for _, it := range res.Items {
		assert.ErrorIs(t, it.Err, ErrMoveFailed, it.Path.String())
		assert.ErrorIs(t, it.Err, ErrDuplicateName, it.Path.String())
	}
	assert.True(t, store.has("acct42/A/.keep"))
	assert.True(t, store.has("acct42/A/a.jpg"))
	assert.True(t, store.has("acct42/x.jpg"))
	assert.False(t, store.has("acct42/Dest/A/a.jpg"))
}

func TestMarkerNameIsReserved(t *testing.T) {
	store := newMem()
	m := newMutator(store, nil)
	ctx := context.Background()
	put(t, store, "acct42/a.jpg", []byte("a"))

	up, err := m.Upload(ctx, acct, Root, []optimizer.File{{Name: MarkerName, Data: pngBytes(t)}}, optimizer.Web, nil)
	require.NoError(t, err)
	require.Len(t, up.Items, 1)
	assert.ErrorIs(t, up.Items[0].Err, ErrInvalidName)
	assert.False(t, store.has("acct42/"+MarkerName))

	mv, err := m.Move(ctx, acct, []MoveItem{{Path: MustParsePath("/a.jpg"), Name: MarkerName, Kind: KindFile}}, MustParsePath("/Album"))
	require.NoError(t, err)
	assert.ErrorIs(t, mv.Items[0].Err, ErrInvalidName)
	assert.True(t, store.has("acct42/a.jpg"))
	assert.False(t, store.has("acct42/Album/"+MarkerName))
}

func TestMoveFolderWithNewNameFollowsFolderRule(t *testing.T) {
	store := newMem()
	m := newMutator(store, nil)
	ctx := context.Background()
	put(t, store, "acct42/A/.keep", nil)
	dest := MustParsePath("/Dest")

	res, err := m.Move(ctx, acct, []MoveItem{
		{Path: MustParsePath("/A"), Name: "a b", Kind: KindFolder},
		{Path: MustParsePath("/A"), Name: "x.y", Kind: KindFolder},
	}, dest)
	require.NoError(t, err)
	for _, it := range res.Items {
		assert.ErrorIs(t, it.Err, ErrInvalidName)
	}
	assert.True(t, store.has("acct42/A/.keep"))

	res, err = m.Move(ctx, acct, []MoveItem{{Path: MustParsePath("/A"), Name: "B", Kind: KindFolder}}, dest)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, "/Dest/B", res.Items[0].Target.String())
	assert.True(t, store.has("acct42/Dest/B/.keep"))
	assert.False(t, store.has("acct42/A/.keep"))
}
