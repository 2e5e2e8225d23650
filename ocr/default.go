package ocr

import (
	"context"
	"fmt"
	"image"
)

var defaultEngine Engine = &noopEngine{}

// DefaultEngine returns the package-level default OCR engine.
func DefaultEngine() Engine {
	return defaultEngine
}

// SetDefaultEngine sets the package-level default OCR engine.
func SetDefaultEngine(engine Engine) {
	defaultEngine = engine
}

// RecognizeImages converts page bitmaps to OCR inputs and invokes the
// provided engine. If the engine supports batch operation, it is used;
// otherwise calls are executed sequentially.
func RecognizeImages(ctx context.Context, engine Engine, images []image.Image, opts ...InputOption) ([]Result, error) {
	inputs := make([]Input, 0, len(images))
	for i, img := range images {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		in, err := InputFromImage(img, i, opts...)
		if err != nil {
			return nil, fmt.Errorf("build input for page %d: %w", i, err)
		}
		inputs = append(inputs, in)
	}
	if b, ok := engine.(BatchEngine); ok {
		return b.RecognizeBatch(ctx, inputs)
	}
	results := make([]Result, 0, len(inputs))
	for _, in := range inputs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		res, err := engine.Recognize(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("recognize %s: %w", in.ID, err)
		}
		results = append(results, res)
	}
	return results, nil
}

type noopEngine struct{}

func (n noopEngine) Name() string {
	return "noop"
}

func (n noopEngine) Recognize(ctx context.Context, input Input) (Result, error) {
	return Result{InputID: input.ID}, nil
}
