// Package fitz provides the default raster.Renderer backed by MuPDF through
// github.com/gen2brain/go-fitz. Isolated in its own package so hosts that
// bring their own renderer do not link the native library.
package fitz

import (
	"context"
	"fmt"
	"image"

	gofitz "github.com/gen2brain/go-fitz"

	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/raster"
)

// Renderer renders pages with MuPDF. The zero value is ready to use.
type Renderer struct{}

// New returns a MuPDF-backed renderer.
func New() *Renderer { return &Renderer{} }

// Render opens the document from memory and renders pageIndex at 72*scale
// DPI. The document handle is closed before returning, so the returned image
// owns its pixels.
func (r *Renderer) Render(ctx context.Context, doc []byte, pageIndex int, scale float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scale <= 0 {
		scale = 1
	}
	d, err := gofitz.NewFromMemory(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", raster.ErrRenderFailed, err)
	}
	defer d.Close()

	if pageIndex < 0 || pageIndex >= d.NumPage() {
		return nil, fmt.Errorf("%w: page %d of %d", raster.ErrRenderFailed, pageIndex, d.NumPage())
	}
	img, err := d.ImageDPI(pageIndex, 72*scale)
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", raster.ErrRenderFailed, pageIndex, err)
	}
	// A cancellation that raced the render discards the bitmap.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return img, nil
}
