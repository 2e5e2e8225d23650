package ocr

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"
)

func TestInputFromImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	in, err := InputFromImage(img, 3, WithLanguages("eng", "deu"), WithDPI(144))
	if err != nil {
		t.Fatalf("InputFromImage: %v", err)
	}
	if in.ID != "page-3" || in.PageIndex != 3 || in.Format != ImageFormatPNG {
		t.Fatalf("input fields: %+v", in)
	}
	if in.DPI != 144 || len(in.Languages) != 2 {
		t.Fatalf("options not applied: %+v", in)
	}
	decoded, err := png.Decode(bytes.NewReader(in.Image))
	if err != nil {
		t.Fatalf("payload is not png: %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Fatalf("bounds: %v", decoded.Bounds())
	}
}

func TestWithRegion(t *testing.T) {
	var in Input
	WithRegion(Region{X: 1, Y: 2, Width: 10, Height: 20})(&in)
	if in.Region == nil || in.Region.Width != 10 {
		t.Fatalf("region: %+v", in.Region)
	}
	WithRegion(Region{})(&in)
	if in.Region != nil {
		t.Fatalf("empty region must clear: %+v", in.Region)
	}
}

func TestTesseractOptions(t *testing.T) {
	var in Input
	WithTesseractPSM(6)(&in)
	WithTesseractWhitelist("0123456789")(&in)
	if in.Metadata["tessedit_pageseg_mode"] != "6" {
		t.Fatalf("psm: %v", in.Metadata)
	}
	if in.Metadata["tessedit_char_whitelist"] != "0123456789" {
		t.Fatalf("whitelist: %v", in.Metadata)
	}
}

type countingEngine struct {
	calls int
}

func (e *countingEngine) Name() string { return "counting" }
func (e *countingEngine) Recognize(ctx context.Context, in Input) (Result, error) {
	e.calls++
	return Result{InputID: in.ID}, nil
}

func TestRecognizeImagesSequential(t *testing.T) {
	imgs := []image.Image{
		image.NewGray(image.Rect(0, 0, 2, 2)),
		image.NewGray(image.Rect(0, 0, 2, 2)),
	}
	eng := &countingEngine{}
	results, err := RecognizeImages(context.Background(), eng, imgs)
	if err != nil {
		t.Fatalf("RecognizeImages: %v", err)
	}
	if len(results) != 2 || eng.calls != 2 {
		t.Fatalf("results %d calls %d", len(results), eng.calls)
	}
	if results[0].InputID != "page-0" || results[1].InputID != "page-1" {
		t.Fatalf("ids: %v", results)
	}
}

func TestRecognizeImagesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RecognizeImages(ctx, &countingEngine{}, []image.Image{image.NewGray(image.Rect(0, 0, 1, 1))})
	if err == nil {
		t.Fatalf("expected context error")
	}
}
