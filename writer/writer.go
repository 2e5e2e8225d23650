// Package writer serializes an assembled object set into a complete PDF
// byte stream: header, numbered body objects, classic cross-reference table,
// and trailer. It is the final stage of the merge pipeline and performs no
// content transformation of its own.
package writer

import (
	"context"
	"io"

	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/pdf"
)

// PDFVersion selects the header version line.
type PDFVersion string

const (
	// PDF17 is the only version the engine emits.
	PDF17 PDFVersion = "1.7"
)

// Config controls serialization.
type Config struct {
	Version PDFVersion
}

// Document is the flat object set to serialize. Object numbers are the map
// keys; generation is always zero for newly composed documents.
type Document struct {
	Objects map[int]pdf.Object
	Root    int
	Info    int // 0 means no /Info
}

// NextNumber returns the lowest unused object number.
func (d *Document) NextNumber() int {
	next := 1
	for num := range d.Objects {
		if num >= next {
			next = num + 1
		}
	}
	return next
}

// Add stores obj under a fresh object number and returns its reference.
func (d *Document) Add(obj pdf.Object) pdf.IndirectObject {
	if d.Objects == nil {
		d.Objects = make(map[int]pdf.Object)
	}
	num := d.NextNumber()
	d.Objects[num] = obj
	return pdf.IndirectObject{ObjectNumber: num}
}

// Writer serializes a Document.
type Writer interface {
	Write(ctx context.Context, doc *Document, w io.Writer, cfg Config) error
}

// NewWriter returns the default implementation.
func NewWriter() Writer { return &impl{} }
