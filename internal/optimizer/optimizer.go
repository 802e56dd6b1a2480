// Package optimizer resizes and recompresses images against a named preset
// before they are stored.
package optimizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	// Decoders for formats the standard library does not register.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/fruitsalade/mediafs/internal/logging"
	"github.com/fruitsalade/mediafs/internal/metrics"
)

const (
	minQuality   = 40
	qualityStep  = 10
	shrinkFactor = 0.8
	minDimension = 64
)

// ErrUnsupportedFormat is returned for images that decode but cannot be
// re-encoded in the same format.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// encodable maps a decoder format name to the encoder that writes it back.
var encodable = map[string]imaging.Format{
	"jpeg": imaging.JPEG,
	"png":  imaging.PNG,
	"bmp":  imaging.BMP,
	"tiff": imaging.TIFF,
}

// File is an in-memory image on its way to the store.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Size returns the byte length of the content.
func (f File) Size() int64 { return int64(len(f.Data)) }

// Status is the state of one file in a batch.
type Status string

const (
	StatusOptimizing Status = "optimizing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Progress is a per-file update emitted during OptimizeBatch. It is
// informational only.
type Progress struct {
	FileName      string `json:"file_name"`
	Progress      int    `json:"progress"`
	Status        Status `json:"status"`
	OriginalSize  int64  `json:"original_size"`
	OptimizedSize *int64 `json:"optimized_size,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ProgressFunc receives progress updates. Calls are serialized.
type ProgressFunc func(Progress)

// Optimizer runs preset transforms. It is safe for concurrent use.
type Optimizer struct {
	concurrency int
}

// New creates an Optimizer that processes at most concurrency files of a
// batch at once.
func New(concurrency int) *Optimizer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Optimizer{concurrency: concurrency}
}

// Optimize returns f transformed to fit preset: same name, same format,
// EXIF orientation applied, within MaxDimension and, on a best-effort basis,
// at most MaxBytes. GIFs pass through untouched to keep animation. When the
// original already fits, or a re-encode at the original dimensions comes out
// larger, the original is returned.
func (o *Optimizer) Optimize(ctx context.Context, f File, preset Preset) (File, error) {
	return o.optimize(ctx, f, preset, func(int) {})
}

func (o *Optimizer) optimize(ctx context.Context, f File, preset Preset, step func(int)) (File, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return f, err
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(f.Data))
	if err != nil {
		return f, fmt.Errorf("decode %s: %w", f.Name, err)
	}
	if format == "gif" {
		metrics.RecordOptimization(preset.Name, "unchanged", f.Size(), f.Size(), time.Since(start))
		return f, nil
	}

	orientation := 1
	if format == "jpeg" || format == "tiff" {
		orientation = readOrientation(f.Data)
	}
	if f.Size() <= preset.MaxBytes && max(cfg.Width, cfg.Height) <= preset.MaxDimension && orientation == 1 {
		metrics.RecordOptimization(preset.Name, "unchanged", f.Size(), f.Size(), time.Since(start))
		return f, nil
	}

	target, ok := encodable[format]
	if !ok {
		return f, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	img, err := imaging.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return f, fmt.Errorf("decode %s: %w", f.Name, err)
	}
	step(20)

	img = applyOrientation(img, orientation)
	img = imaging.Fit(img, preset.MaxDimension, preset.MaxDimension, imaging.Lanczos)
	step(40)

	data, err := shrink(ctx, img, target, preset, step)
	if err != nil {
		return f, fmt.Errorf("encode %s: %w", f.Name, err)
	}

	if int64(len(data)) >= f.Size() && max(cfg.Width, cfg.Height) <= preset.MaxDimension && orientation == 1 {
		metrics.RecordOptimization(preset.Name, "unchanged", f.Size(), f.Size(), time.Since(start))
		return f, nil
	}

	out := File{Name: f.Name, MimeType: "image/" + format, Data: data}
	metrics.RecordOptimization(preset.Name, "optimized", f.Size(), out.Size(), time.Since(start))
	logging.Debug("image optimized",
		zap.String("name", f.Name),
		zap.String("preset", preset.Name),
		zap.Int64("original_size", f.Size()),
		zap.Int64("optimized_size", out.Size()))
	return out, nil
}

// shrink encodes img, lowering JPEG quality first and then dimensions until
// the output fits MaxBytes or the image gets smaller than minDimension. The
// last encoding is returned either way.
func shrink(ctx context.Context, img image.Image, format imaging.Format, preset Preset, step func(int)) ([]byte, error) {
	quality := preset.Quality
	progress := 40
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var buf bytes.Buffer
		err := imaging.Encode(&buf, img, format,
			imaging.JPEGQuality(quality),
			imaging.PNGCompressionLevel(png.BestCompression))
		if err != nil {
			return nil, err
		}
		if int64(buf.Len()) <= preset.MaxBytes {
			return buf.Bytes(), nil
		}

		if progress < 90 {
			progress += 5
			step(progress)
		}

		if format == imaging.JPEG && quality-qualityStep >= minQuality {
			quality -= qualityStep
			continue
		}

		b := img.Bounds()
		w := int(float64(b.Dx()) * shrinkFactor)
		h := int(float64(b.Dy()) * shrinkFactor)
		if max(w, h) < minDimension {
			return buf.Bytes(), nil
		}
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}
}

// OptimizeBatch optimizes files concurrently. A file whose optimization
// fails is returned with its original bytes. The result has the same order
// as files. onProgress may be nil.
func (o *Optimizer) OptimizeBatch(ctx context.Context, files []File, preset Preset, onProgress ProgressFunc) []File {
	var mu sync.Mutex
	report := func(p Progress) {
		if onProgress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		onProgress(p)
	}

	out := make([]File, len(files))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, f := range files {
		g.Go(func() error {
			report(Progress{FileName: f.Name, Progress: 0, Status: StatusOptimizing, OriginalSize: f.Size()})
			step := func(pct int) {
				report(Progress{FileName: f.Name, Progress: pct, Status: StatusOptimizing, OriginalSize: f.Size()})
			}

			res, err := o.optimize(ctx, f, preset, step)
			if err != nil {
				logging.WithContext(ctx).Warn("optimization failed, using original",
					zap.String("name", f.Name),
					zap.String("preset", preset.Name),
					zap.Error(err))
				metrics.RecordOptimization(preset.Name, "fallback", f.Size(), f.Size(), 0)
				out[i] = f
				report(Progress{FileName: f.Name, Progress: 100, Status: StatusError, OriginalSize: f.Size(), Error: err.Error()})
				return nil
			}

			out[i] = res
			size := res.Size()
			report(Progress{FileName: f.Name, Progress: 100, Status: StatusCompleted, OriginalSize: f.Size(), OptimizedSize: &size})
			return nil
		})
	}
	_ = g.Wait()
	return out
}
