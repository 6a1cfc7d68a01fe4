package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"
	_ "golang.org/x/image/webp"

	"github.com/lensworks/aperture/internal/progress"
	"github.com/lensworks/aperture/internal/storage"
)

// Variant is one encoded derivative produced by Encode.
type Variant struct {
	SizeTier string
	Format   string
	Path     string // relative to the derivatives root
	Width    int
	Height   int
	Size     int64
	MimeType string
}

// codec encodes one output format. quality is already format-adjusted;
// effort ranges 0 (max effort) to 10 (fastest) and only AVIF uses it.
type codec struct {
	format string
	ext    string
	mime   string
	encode func(w io.Writer, img image.Image, quality, effort int) error
}

var defaultCodecs = []codec{
	{
		format: "avif",
		ext:    "avif",
		mime:   "image/avif",
		encode: func(w io.Writer, img image.Image, quality, effort int) error {
			return avif.Encode(w, img, avif.Options{Quality: quality, Speed: effort})
		},
	},
	{
		format: "webp",
		ext:    "webp",
		mime:   "image/webp",
		encode: func(w io.Writer, img image.Image, quality, _ int) error {
			// Method 6 is the slowest/highest-effort cwebp setting.
			return webp.Encode(w, img, webp.Options{Quality: quality, Method: 6})
		},
	},
	{
		format: "jpeg",
		ext:    "jpg",
		mime:   "image/jpeg",
		encode: func(w io.Writer, img image.Image, quality, _ int) error {
			return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
		},
	},
}

// progressBaseline is where encoding picks up in the overall upload progress;
// earlier stages (upload, exif) own 0-60.
const progressBaseline = 60

// Encoder produces the derivative matrix for an upload: one output per
// (size tier x format), written through the derivatives storage backend.
type Encoder struct {
	specs      *SpecProvider
	store      storage.Storage
	avifOffset int
	avifFloor  int
	codecs     []codec
}

func NewEncoder(specs *SpecProvider, store storage.Storage, avifOffset, avifFloor int) *Encoder {
	return &Encoder{
		specs:      specs,
		store:      store,
		avifOffset: avifOffset,
		avifFloor:  avifFloor,
		codecs:     defaultCodecs,
	}
}

// Decode reads an image, auto-rotating from the embedded orientation tag and
// cloning into an NRGBA working buffer, so downstream consumers never see
// rotated or mis-profiled output.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("imaging: decode: %w", err)
	}
	return imaging.Clone(img), nil
}

// Encode resizes and encodes img into every applicable (tier, format)
// combination under basePath. Tiers whose target exceeds the source's larger
// dimension are skipped; nothing is ever upscaled. A failing format is logged
// and does not abort sibling formats or tiers, so a tier may end up with
// fewer than three entries. After each tier a progress event is emitted,
// apportioned evenly from the baseline to 100.
func (e *Encoder) Encode(ctx context.Context, img image.Image, basePath string, report progress.Reporter) ([]Variant, error) {
	if report == nil {
		report = progress.Discard
	}

	// Snapshot: a concurrent table reload must not affect this encode.
	tiers := e.specs.Tiers()

	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	srcMax := srcW
	if srcH > srcMax {
		srcMax = srcH
	}

	var variants []Variant
	for i, tier := range tiers {
		if err := ctx.Err(); err != nil {
			return variants, err
		}

		if tier.MaxDim <= srcMax {
			resized := imaging.Fit(img, tier.MaxDim, tier.MaxDim, imaging.Lanczos)
			variants = append(variants, e.encodeTier(resized, tier, tierEffort(i, len(tiers)), basePath)...)
		}

		report.Report(progress.StageProcessing, progressBaseline+(i+1)*(100-progressBaseline)/len(tiers))
	}

	return variants, nil
}

// encodeTier encodes the three formats from the single resized buffer.
func (e *Encoder) encodeTier(resized image.Image, tier TierSpec, effort int, basePath string) []Variant {
	b := resized.Bounds()

	var out []Variant
	for _, c := range e.codecs {
		quality := e.formatQuality(c.format, tier.Quality)

		var buf bytes.Buffer
		if err := c.encode(&buf, resized, quality, effort); err != nil {
			slog.Error("derivative encode failed",
				"format", c.format,
				"tier", tier.Name,
				"error", err,
			)
			continue
		}

		path := fmt.Sprintf("%s/%s.%s", basePath, tier.Name, c.ext)
		if err := e.store.Save(path, bytes.NewReader(buf.Bytes())); err != nil {
			slog.Error("derivative write failed",
				"format", c.format,
				"tier", tier.Name,
				"path", path,
				"error", err,
			)
			continue
		}

		out = append(out, Variant{
			SizeTier: tier.Name,
			Format:   c.format,
			Path:     path,
			Width:    b.Dx(),
			Height:   b.Dy(),
			Size:     int64(buf.Len()),
			MimeType: c.mime,
		})
	}
	return out
}

// formatQuality derives the per-format quality from the tier's base quality:
// AVIF takes the configured offset with a floor, WebP uses the base as-is,
// JPEG gets a small bump capped at 95.
func (e *Encoder) formatQuality(format string, base int) int {
	switch format {
	case "avif":
		q := base + e.avifOffset
		if q < e.avifFloor {
			q = e.avifFloor
		}
		return q
	case "jpeg":
		q := base + 5
		if q > 95 {
			q = 95
		}
		return q
	default:
		return base
	}
}

// tierEffort maps table position to AVIF encoder speed: small tiers get the
// slowest (best) setting, large tiers the fastest, trading encode time for
// smaller files where it matters most.
func tierEffort(index, total int) int {
	const slowest, fastest = 2, 9
	if total <= 1 {
		return slowest
	}
	return slowest + index*(fastest-slowest)/(total-1)
}
