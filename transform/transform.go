// Package transform holds the stateless per-page operations applied at
// composition time: rotation composition and watermark stamping. Nothing in
// this package mutates the page sequence.
package transform

import (
	"bytes"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidRotation is returned for rotation deltas outside
	// {0, 90, 180, 270}.
	ErrInvalidRotation = errors.New("transform: invalid rotation")
	// ErrInvalidWatermark is returned for unusable watermark configurations.
	ErrInvalidWatermark = errors.New("transform: invalid watermark config")
)

// ComposeRotation adds a delta to a base rotation, modulo 360. Only quarter
// turns are valid deltas; the base is normalized from whatever the source
// document carries.
func ComposeRotation(base, delta int) (int, error) {
	switch delta {
	case 0, 90, 180, 270:
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidRotation, delta)
	}
	r := (base + delta) % 360
	if r < 0 {
		r += 360
	}
	return r, nil
}

// Position anchors the watermark on the page.
type Position string

const (
	PositionCenter     Position = "center"
	PositionTopRight   Position = "top-right"
	PositionBottomLeft Position = "bottom-left"
	// PositionDiagonal centers the stamp and tilts it along the page
	// diagonal, overriding the configured angle.
	PositionDiagonal Position = "diagonal"
)

// Color is an RGB fill color with components in [0,1].
type Color struct {
	R, G, B float64
}

// WatermarkConfig describes the stamp applied to every composited page.
type WatermarkConfig struct {
	Enabled  bool
	Text     string
	Position Position
	FontSize float64
	Color    Color
	// Opacity in [0,1]. Zero is legal and produces an invisible stamp;
	// callers wanting no watermark disable instead.
	Opacity float64
	// Angle in degrees, counterclockwise, independent of page rotation.
	// Ignored for PositionDiagonal.
	Angle float64
}

// Validate reports whether an enabled config can be stamped.
func (c WatermarkConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Text == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidWatermark)
	}
	if c.Opacity < 0 || c.Opacity > 1 {
		return fmt.Errorf("%w: opacity %v outside [0,1]", ErrInvalidWatermark, c.Opacity)
	}
	switch c.Position {
	case PositionCenter, PositionTopRight, PositionBottomLeft, PositionDiagonal:
	default:
		return fmt.Errorf("%w: unknown position %q", ErrInvalidWatermark, c.Position)
	}
	if c.FontSize <= 0 {
		return fmt.Errorf("%w: font size %v", ErrInvalidWatermark, c.FontSize)
	}
	return nil
}

// cornerMargin is the offset from page corners for the corner positions.
const cornerMargin = 36.0

// WatermarkOps builds the content-stream operator sequence stamping the
// configured text on a page of the given dimensions. gsName and fontName are
// the resource names the caller registered for the alpha ExtGState and the
// Helvetica font. The stamp is wrapped in q/Q so graphics state never leaks
// into the page's own content.
func WatermarkOps(cfg WatermarkConfig, width, height float64, gsName, fontName string) ([]byte, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, nil
	}

	x, y, angle := anchor(cfg, width, height)
	rad := angle * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)

	var buf bytes.Buffer
	buf.WriteString("q\nBT\n")
	fmt.Fprintf(&buf, "/%s gs\n", gsName)
	fmt.Fprintf(&buf, "%s %s %s rg\n", num(cfg.Color.R), num(cfg.Color.G), num(cfg.Color.B))
	fmt.Fprintf(&buf, "/%s %s Tf\n", fontName, num(cfg.FontSize))
	fmt.Fprintf(&buf, "%s %s %s %s %s %s Tm\n", num(cos), num(sin), num(-sin), num(cos), num(x), num(y))
	buf.WriteString("(")
	buf.Write(escapeText(cfg.Text))
	buf.WriteString(") Tj\nET\nQ\n")
	return buf.Bytes(), nil
}

// anchor maps a position to its deterministic coordinates and stamp angle.
// Corner positions keep the configured angle; diagonal tilts along the page
// diagonal through the midpoint.
func anchor(cfg WatermarkConfig, width, height float64) (x, y, angle float64) {
	// Helvetica averages about half the font size per glyph; good enough to
	// keep corner stamps on the page.
	textWidth := 0.5 * cfg.FontSize * float64(len(cfg.Text))
	switch cfg.Position {
	case PositionTopRight:
		return width - cornerMargin - textWidth, height - cornerMargin, cfg.Angle
	case PositionBottomLeft:
		return cornerMargin, cornerMargin, cfg.Angle
	case PositionDiagonal:
		return width/2 - textWidth/2, height / 2, math.Atan2(height, width) * 180 / math.Pi
	default: // center
		return width/2 - textWidth/2, height / 2, cfg.Angle
	}
}

func escapeText(s string) []byte {
	var out []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', ')', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return out
}

func num(f float64) string {
	if f == math.Trunc(f) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.4f", f)
}
