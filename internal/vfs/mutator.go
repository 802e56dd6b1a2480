package vfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/mediafs/internal/events"
	"github.com/fruitsalade/mediafs/internal/logging"
	"github.com/fruitsalade/mediafs/internal/metrics"
	"github.com/fruitsalade/mediafs/internal/optimizer"
	"github.com/fruitsalade/mediafs/internal/storage"
)

const (
	DefaultMaxFiles      = 25
	DefaultMaxUploadSize = 20 << 20

	markerContentType = "application/x-directory"
)

// Publisher receives change and progress events. *events.Broadcaster
// implements it.
type Publisher interface {
	Publish(events.Event)
}

// Options bound the mutating operations.
type Options struct {
	// MaxUploadSize is the per-file byte ceiling checked before optimization.
	MaxUploadSize int64
	// MaxFiles is the most files accepted by one Upload call.
	MaxFiles int
	// Concurrency is the number of files stored at once during an upload.
	Concurrency int
}

func (o Options) withDefaults() Options {
	if o.MaxUploadSize <= 0 {
		o.MaxUploadSize = DefaultMaxUploadSize
	}
	if o.MaxFiles <= 0 {
		o.MaxFiles = DefaultMaxFiles
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	return o
}

// Mutator builds create, upload, delete, rename and move out of the store's
// four primitives. Batch operations resolve every item to its own result.
type Mutator struct {
	store     storage.Backend
	collector *Collector
	optimizer *optimizer.Optimizer
	events    Publisher
	url       URLFunc
	opts      Options
}

// NewMutator creates a Mutator. pub and url may be nil.
func NewMutator(store storage.Backend, opt *optimizer.Optimizer, pub Publisher, url URLFunc, opts Options) *Mutator {
	opts = opts.withDefaults()
	if opt == nil {
		opt = optimizer.New(opts.Concurrency)
	}
	if url == nil {
		url = func(string) string { return "" }
	}
	return &Mutator{
		store:     store,
		collector: NewCollector(store),
		optimizer: opt,
		events:    pub,
		url:       url,
		opts:      opts,
	}
}

func (m *Mutator) publish(e events.Event) {
	if m.events != nil {
		m.events.Publish(e)
	}
}

// CreateFolder writes the marker of parent/name.
func (m *Mutator) CreateFolder(ctx context.Context, accountID string, parent Path, name string) (*FolderEntry, error) {
	p, err := parent.Join(name)
	if err != nil {
		return nil, err
	}
	if err := m.kindClash(ctx, accountID, p, true); err != nil {
		if !errors.Is(err, ErrDuplicateName) {
			err = fmt.Errorf("%w: %s: %w", ErrCreateFailed, p, err)
		}
		return nil, err
	}

	log := logging.WithContext(ctx)
	if _, err := m.store.Put(ctx, MarkerKey(accountID, p), bytes.NewReader(nil), 0, markerContentType); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: folder %s", ErrDuplicateName, p)
		}
		log.Error("create folder failed", zap.String("account", accountID), zap.Stringer("path", p), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrCreateFailed, p, err)
	}

	log.Info("folder created", zap.String("account", accountID), zap.Stringer("path", p))
	m.publish(events.Event{Type: events.EventCreate, AccountID: accountID, Path: p.String()})

	now := time.Now().UTC()
	return &FolderEntry{
		ID:         name,
		Name:       name,
		Path:       p,
		ParentPath: parent,
		CreatedAt:  now,
		UpdatedAt:  now,
		AccountID:  accountID,
	}, nil
}

// Upload checks, optimizes and stores files under folder. Only a batch over
// the file limit is rejected as a whole; every other failure is attributed
// to its file.
func (m *Mutator) Upload(ctx context.Context, accountID string, folder Path, files []optimizer.File, preset optimizer.Preset, onProgress optimizer.ProgressFunc) (*BatchResult, error) {
	if len(files) > m.opts.MaxFiles {
		return nil, fmt.Errorf("%w: %d files, limit is %d", ErrTooManyFiles, len(files), m.opts.MaxFiles)
	}

	log := logging.WithContext(ctx)
	batch := newBatch("upload", len(files))

	var (
		accepted []optimizer.File
		slots    []int
	)
	for i, f := range files {
		target, err := folder.Child(f.Name)
		batch.Items = append(batch.Items, ItemResult{Path: target, Target: target, Err: err})
		if err != nil {
			continue
		}
		if f.Size() > m.opts.MaxUploadSize {
			batch.Items[i].Err = fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrFileTooLarge, f.Name, f.Size(), m.opts.MaxUploadSize)
			continue
		}
		mt := mimetype.Detect(f.Data)
		if !strings.HasPrefix(mt.String(), "image/") {
			batch.Items[i].Err = fmt.Errorf("%w: %s is %s", ErrNotImage, f.Name, mt.String())
			continue
		}
		f.MimeType = mt.String()
		accepted = append(accepted, f)
		slots = append(slots, i)
	}

	// A file may not take the name of a folder already in place.
	if len(accepted) > 0 {
		siblings, err := m.store.ListChildren(ctx, ListPrefix(accountID, folder))
		keep, keepSlots := accepted[:0], slots[:0]
		for j, f := range accepted {
			i := slots[j]
			switch {
			case err != nil:
				batch.Items[i].Err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
			case hasOtherKind(siblings, f.Name, false):
				batch.Items[i].Err = fmt.Errorf("%w: %s is a folder", ErrDuplicateName, batch.Items[i].Target)
			default:
				keep = append(keep, f)
				keepSlots = append(keepSlots, i)
			}
		}
		accepted, slots = keep, keepSlots
	}

	byName := make(map[string]Path, len(accepted))
	for _, i := range slots {
		byName[files[i].Name] = batch.Items[i].Target
	}
	progress := func(p optimizer.Progress) {
		if onProgress != nil {
			onProgress(p)
		}
		m.publish(events.Event{
			Type:      events.EventProgress,
			AccountID: accountID,
			Path:      byName[p.FileName].String(),
			Progress:  p,
		})
	}

	optimized := m.optimizer.OptimizeBatch(ctx, accepted, preset, progress)

	var g errgroup.Group
	g.SetLimit(m.opts.Concurrency)
	for j, f := range optimized {
		i := slots[j]
		target := batch.Items[i].Target
		g.Go(func() error {
			entry, err := m.storeFile(ctx, accountID, target, f)
			if err != nil {
				batch.Items[i].Err = err
				return nil
			}
			batch.Items[i].File = entry
			return nil
		})
	}
	_ = g.Wait()

	batch.record()
	log.Info("upload finished",
		zap.String("account", accountID),
		zap.Stringer("path", folder),
		zap.String("preset", preset.Name),
		zap.Int("files", len(files)),
		zap.Int("failed", len(batch.Failed())))
	return batch, nil
}

func (m *Mutator) storeFile(ctx context.Context, accountID string, target Path, f optimizer.File) (*FileEntry, error) {
	key := FullKey(accountID, target)
	id, err := m.store.Put(ctx, key, bytes.NewReader(f.Data), f.Size(), f.MimeType)
	metrics.RecordUpload(f.Size(), err == nil)
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, target)
		}
		logging.WithContext(ctx).Error("store upload failed", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("store %s: %w", target, err)
	}

	m.publish(events.Event{Type: events.EventCreate, AccountID: accountID, Path: target.String(), Size: f.Size()})
	now := time.Now().UTC()
	return &FileEntry{
		ID:        id,
		Name:      target.Name(),
		Path:      target,
		Size:      f.Size(),
		MimeType:  f.MimeType,
		URL:       m.url(key),
		CreatedAt: now,
		UpdatedAt: now,
		AccountID: accountID,
	}, nil
}

// Delete removes files and whole folders with a single DeleteMany call.
// Keys the store could not delete mark their owning items failed.
func (m *Mutator) Delete(ctx context.Context, accountID string, items []Item) (*BatchResult, error) {
	batch := newBatch("delete", len(items))
	owners := make(map[string][]int)
	var keys []string
	add := func(key string, owner int) {
		if _, ok := owners[key]; !ok {
			keys = append(keys, key)
		}
		owners[key] = append(owners[key], owner)
	}

	for i, it := range items {
		batch.Items = append(batch.Items, ItemResult{Path: it.Path})
		if it.Path.IsRoot() {
			batch.Items[i].Err = fmt.Errorf("%w: the root cannot be deleted", ErrInvalidName)
			continue
		}
		if it.Kind != KindFolder {
			add(FullKey(accountID, it.Path), i)
			continue
		}
		leaves, err := m.collector.CollectLeaves(ctx, accountID, it.Path)
		if err != nil {
			batch.Items[i].Err = err
			continue
		}
		for _, k := range leaves {
			add(k, i)
		}
	}

	log := logging.WithContext(ctx)
	if len(keys) > 0 {
		failed, err := m.store.DeleteMany(ctx, keys)
		if err != nil {
			log.Error("delete failed", zap.String("account", accountID), zap.Int("keys", len(keys)), zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		for _, k := range failed {
			for _, i := range owners[k] {
				if batch.Items[i].Err == nil {
					batch.Items[i].Err = fmt.Errorf("%w: %s", ErrDeleteFailed, batch.Items[i].Path)
				}
			}
		}
	}

	for _, it := range batch.Items {
		if it.OK() {
			m.publish(events.Event{Type: events.EventDelete, AccountID: accountID, Path: it.Path.String()})
		}
	}
	batch.record()
	log.Info("delete finished",
		zap.String("account", accountID),
		zap.Int("items", len(items)),
		zap.Int("keys", len(keys)),
		zap.Int("failed", len(batch.Failed())))
	return batch, nil
}

// Rename gives one item a new name in the same folder and returns its new
// path. A file keeps its extension when newName has none.
func (m *Mutator) Rename(ctx context.Context, accountID string, item Item, newName string) (Path, error) {
	var (
		target Path
		err    error
	)
	if item.Kind == KindFolder {
		if item.Path.IsRoot() {
			return Root, fmt.Errorf("%w: the root cannot be renamed", ErrInvalidName)
		}
		target, err = item.Path.Parent().Join(newName)
	} else {
		target, err = RenameTarget(item.Path, newName)
	}
	if err != nil {
		return Root, err
	}

	if err := m.relocate(ctx, accountID, item.Path, target, item.Kind); err != nil {
		return Root, err
	}
	logging.WithContext(ctx).Info("item renamed",
		zap.String("account", accountID),
		zap.Stringer("from", item.Path),
		zap.Stringer("to", target))
	return target, nil
}

// Move relocates items into destination one after another. Every item is
// attempted regardless of earlier failures.
func (m *Mutator) Move(ctx context.Context, accountID string, items []MoveItem, destination Path) (*BatchResult, error) {
	batch := newBatch("move", len(items))
	for _, it := range items {
		res := ItemResult{Path: it.Path}
		var (
			target Path
			err    error
		)
		switch {
		case it.Name == "":
			target, err = destination.Child(it.Path.Name())
		case it.Kind == KindFolder:
			target, err = destination.Join(it.Name)
		default:
			target, err = destination.Child(it.Name)
		}
		switch {
		case it.Path.IsRoot():
			res.Err = fmt.Errorf("%w: the root cannot be moved", ErrInvalidMove)
		case err != nil:
			res.Err = err
		default:
			res.Target = target
			res.Err = m.relocate(ctx, accountID, it.Path, target, it.Kind)
		}
		batch.Items = append(batch.Items, res)
	}

	batch.record()
	logging.WithContext(ctx).Info("move finished",
		zap.String("account", accountID),
		zap.Stringer("destination", destination),
		zap.Int("items", len(items)),
		zap.Int("failed", len(batch.Failed())))
	return batch, nil
}

func (m *Mutator) relocate(ctx context.Context, accountID string, from, to Path, kind Kind) error {
	var err error
	if kind == KindFolder {
		err = m.moveFolder(ctx, accountID, from, to)
	} else {
		err = m.moveFile(ctx, accountID, from, to)
	}
	if err != nil {
		return err
	}
	m.publish(events.Event{Type: events.EventMove, AccountID: accountID, Path: from.String(), NewPath: to.String()})
	return nil
}

func (m *Mutator) moveFile(ctx context.Context, accountID string, from, to Path) error {
	if err := m.kindClash(ctx, accountID, to, false); err != nil {
		return fmt.Errorf("%w: %w", ErrMoveFailed, err)
	}
	return m.moveKey(ctx, FullKey(accountID, from), FullKey(accountID, to), to)
}

// moveKey maps adapter failures: a taken destination matches both
// ErrMoveFailed and ErrDuplicateName.
func (m *Mutator) moveKey(ctx context.Context, oldKey, newKey string, to Path) error {
	err := m.store.MoveOne(ctx, oldKey, newKey)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrAlreadyExists):
		return fmt.Errorf("%w: %w: %s", ErrMoveFailed, ErrDuplicateName, to)
	default:
		logging.WithContext(ctx).Warn("move failed", zap.String("from", oldKey), zap.String("to", newKey), zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrMoveFailed, to, err)
	}
}

// moveFolder relocates every leaf of from under to. If a leaf fails, the
// leaves already moved are moved back.
func (m *Mutator) moveFolder(ctx context.Context, accountID string, from, to Path) error {
	if to.HasPrefix(from) {
		return fmt.Errorf("%w: %s into %s", ErrInvalidMove, from, to)
	}

	existing, err := m.store.ListChildren(ctx, ListPrefix(accountID, to))
	if err != nil {
		return fmt.Errorf("%w: %w: %w", ErrMoveFailed, ErrStoreUnavailable, err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: %w: %s", ErrMoveFailed, ErrDuplicateName, to)
	}
	if err := m.kindClash(ctx, accountID, to, true); err != nil {
		return fmt.Errorf("%w: %w", ErrMoveFailed, err)
	}

	var leaves []Path
	if err := m.collector.Walk(ctx, accountID, from, func(l Leaf) {
		leaves = append(leaves, l.Path)
	}, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrMoveFailed, err)
	}
	if len(leaves) == 0 {
		return fmt.Errorf("%w: %s: %w", ErrMoveFailed, from, storage.ErrNotFound)
	}

	for n, leaf := range leaves {
		dst := leaf.Rebase(from, to)
		if err := m.moveKey(ctx, FullKey(accountID, leaf), FullKey(accountID, dst), dst); err != nil {
			m.rollback(ctx, accountID, from, to, leaves[:n])
			return err
		}
	}
	return nil
}

// kindClash fails with ErrDuplicateName when p's parent already holds an
// entry named like p of the other kind. A flat store keeps "a" and "a/..."
// apart, so nothing else stops a file and a folder sharing a name.
func (m *Mutator) kindClash(ctx context.Context, accountID string, p Path, container bool) error {
	siblings, err := m.store.ListChildren(ctx, ListPrefix(accountID, p.Parent()))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if hasOtherKind(siblings, p.Name(), container) {
		if container {
			return fmt.Errorf("%w: %s is a file", ErrDuplicateName, p)
		}
		return fmt.Errorf("%w: %s is a folder", ErrDuplicateName, p)
	}
	return nil
}

func hasOtherKind(objs []storage.Object, name string, container bool) bool {
	for _, o := range objs {
		if o.Name == name && o.IsContainer != container {
			return true
		}
	}
	return false
}

func (m *Mutator) rollback(ctx context.Context, accountID string, from, to Path, moved []Path) {
	for i := len(moved) - 1; i >= 0; i-- {
		src := FullKey(accountID, moved[i].Rebase(from, to))
		if err := m.store.MoveOne(ctx, src, FullKey(accountID, moved[i])); err != nil {
			logging.WithContext(ctx).Error("folder move rollback failed", zap.String("key", src), zap.Error(err))
		}
	}
}
