// Package raster defines the rendering boundary used by thumbnails, the
// similarity engine, and OCR. Backends live in subpackages.
package raster

import (
	"context"
	"errors"
	"image"
)

// ErrRenderFailed is returned when a page cannot be rendered.
var ErrRenderFailed = errors.New("raster: render failed")

// Renderer renders one page of an in-memory document to a bitmap. Pixel
// dimensions must be deterministic for a given scale. Implementations must
// honor cancellation by returning ctx.Err() with a nil image; a cancelled
// render never yields a partial bitmap.
type Renderer interface {
	Render(ctx context.Context, doc []byte, pageIndex int, scale float64) (image.Image, error)
}

// RenderFunc adapts a function to the Renderer interface.
type RenderFunc func(ctx context.Context, doc []byte, pageIndex int, scale float64) (image.Image, error)

func (f RenderFunc) Render(ctx context.Context, doc []byte, pageIndex int, scale float64) (image.Image, error) {
	return f(ctx, doc, pageIndex, scale)
}
