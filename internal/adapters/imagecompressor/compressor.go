package imagecompressor

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pantrykeep/mealimages/internal/constants"
	"github.com/pantrykeep/mealimages/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const maxSourceBytes = 32 << 20

// Upper bound on declared width*height, checked before the full decode
const maxSourcePixels = 40_000_000

const ContentType = "image/jpeg"

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Compressor struct {
	httpClient   HttpClient
	scratchRoot  string
	maxDimension int
	quality      int
	timeout      time.Duration

	tracer trace.Tracer
}

func NewCompressor(httpClient HttpClient, scratchRoot string, maxDimension int, quality int, timeout time.Duration) *Compressor {
	return &Compressor{
		httpClient:   httpClient,
		scratchRoot:  scratchRoot,
		maxDimension: maxDimension,
		quality:      quality,
		timeout:      timeout,

		tracer: otel.Tracer("mealimages/imagecompressor"),
	}
}

// Compress downloads the image at sourceURL and re-encodes it as a JPEG no larger than the
// configured dimension. All intermediate files live in a scratch directory that is removed
// before returning.
//
// NOTE: Callers are expected to handle their own error reporting
func (c *Compressor) Compress(ctx context.Context, sourceURL string) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "Compressor.Compress")
	defer span.End()

	scratchDir, err := os.MkdirTemp(c.scratchRoot, "meal-image-*")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create scratch dir: %w", domain.ErrCompressionFailed, err)
	}
	defer os.RemoveAll(scratchDir)

	sourcePath := filepath.Join(scratchDir, "source")
	if err := c.download(ctx, sourceURL, sourcePath); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCompressionFailed, err)
	}

	img, err := decodeFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCompressionFailed, err)
	}

	outputPath := filepath.Join(scratchDir, "compressed.jpg")
	if err := encodeJPEGFile(outputPath, resize(img, c.maxDimension), c.quality); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCompressionFailed, err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read compressed image: %w", domain.ErrCompressionFailed, err)
	}

	return data, nil
}

func (c *Compressor) download(ctx context.Context, sourceURL string, path string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", constants.USER_AGENT)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download source image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("source image returned status code %s", strconv.Itoa(resp.StatusCode))
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create source file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, io.LimitReader(resp.Body, maxSourceBytes+1))
	if err != nil {
		return fmt.Errorf("failed to write source file: %w", err)
	}
	if written == 0 {
		return errors.New("source image is empty")
	}
	if written > maxSourceBytes {
		return fmt.Errorf("source image is larger than %d bytes", maxSourceBytes)
	}

	return nil
}

func decodeFile(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer file.Close()

	cfg, format, err := image.DecodeConfig(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode source image header (format %q): %w", format, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("source image has invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxSourcePixels {
		return nil, fmt.Errorf("source image dimensions %dx%d exceed %d pixels", cfg.Width, cfg.Height, maxSourcePixels)
	}

	_, err = file.Seek(0, io.SeekStart)
	if err != nil {
		return nil, fmt.Errorf("failed to rewind source file: %w", err)
	}

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode source image (format %q): %w", format, err)
	}
	return img, nil
}

// resize scales img so that its longest side is at most maxDimension.
// The result is always opaque, transparent pixels are flattened onto white.
func resize(img image.Image, maxDimension int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if longest := max(width, height); longest > maxDimension {
		width = max(1, width*maxDimension/longest)
		height = max(1, height*maxDimension/longest)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

func encodeJPEGFile(path string, img image.Image, quality int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	if err := jpeg.Encode(file, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("failed to encode jpeg: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to flush output file: %w", err)
	}
	return nil
}
