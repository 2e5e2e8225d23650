// Package similarity flags visually near-identical pages so the user can
// deduplicate before merging. Detection is advisory: it annotates page refs
// and never changes selection on its own.
package similarity

import (
	"image"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/sequence"
)

// gridSize is the downscale edge; feature vectors have gridSize² entries.
const gridSize = 16

// VectorLength is the fixed length of every feature vector.
const VectorLength = gridSize * gridSize

// ComputeFeatureVector embeds a page raster as a mean-centered luminance grid.
// The embedding is deterministic: identical bitmaps produce identical vectors.
// A uniform page (blank, solid fill) centers to the zero vector and therefore
// never matches anything.
func ComputeFeatureVector(img image.Image) []float64 {
	small := image.NewGray(image.Rect(0, 0, gridSize, gridSize))
	xdraw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	vec := make([]float64, VectorLength)
	var mean float64
	for i := 0; i < VectorLength; i++ {
		vec[i] = float64(small.Pix[i])
		mean += vec[i]
	}
	mean /= VectorLength
	for i := range vec {
		vec[i] -= mean
	}
	return vec
}

// Cosine returns dot(a,b) / (‖a‖·‖b‖). A zero divisor yields 0, so degenerate
// vectors are never similar to anything.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	div := math.Sqrt(na) * math.Sqrt(nb)
	if div == 0 {
		return 0
	}
	return dot / div
}

// PageRaster pairs a sequence entry with its rendered bitmap. A nil Image
// marks a failed render; such pages are excluded from comparison and keep
// whatever DuplicateOf they had.
type PageRaster struct {
	Ref   *sequence.PageRef
	Image image.Image
}

// DetectDuplicates recomputes duplicate assignments from scratch over pages
// in sequence order. For each page the first earlier page whose cosine
// similarity exceeds threshold becomes its DuplicateOf; no qualifying match
// clears it. Classification is one-shot, not transitive: with A~B and B~C but
// not A~C, C points at B.
//
// Any prior assignments on compared pages are discarded first; stale values
// from a previous order are invalid after any sequence mutation.
func DetectDuplicates(pages []PageRaster, threshold float64) {
	type entry struct {
		ref *sequence.PageRef
		vec []float64
	}
	compared := make([]entry, 0, len(pages))
	for _, p := range pages {
		if p.Image == nil || p.Ref == nil {
			continue
		}
		p.Ref.DuplicateOf = ""
		compared = append(compared, entry{ref: p.Ref, vec: ComputeFeatureVector(p.Image)})
	}

	for i := 1; i < len(compared); i++ {
		for j := 0; j < i; j++ {
			if Cosine(compared[i].vec, compared[j].vec) > threshold {
				compared[i].ref.DuplicateOf = compared[j].ref.ID
				break
			}
		}
	}
}

// Pairs returns the full pairwise similarity matrix over the comparable
// pages, in input order. Rows and columns of failed rasters are omitted.
// Debug and tooling helper; detection itself uses first-match semantics.
func Pairs(pages []PageRaster) [][]float64 {
	vecs := make([][]float64, 0, len(pages))
	for _, p := range pages {
		if p.Image == nil {
			continue
		}
		vecs = append(vecs, ComputeFeatureVector(p.Image))
	}
	matrix := make([][]float64, len(vecs))
	for i := range vecs {
		matrix[i] = make([]float64, len(vecs))
		for j := range vecs {
			if i == j {
				matrix[i][j] = 1
				continue
			}
			matrix[i][j] = Cosine(vecs[i], vecs[j])
		}
	}
	return matrix
}
