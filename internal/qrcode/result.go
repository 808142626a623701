package qrcode

import (
	"time"

	"github.com/MeKo-Tech/qrlens/internal/bitstream"
	"github.com/MeKo-Tech/qrlens/internal/common"
	"github.com/MeKo-Tech/qrlens/internal/finder"
	"github.com/MeKo-Tech/qrlens/internal/sampler"
	"github.com/MeKo-Tech/qrlens/internal/symbol"
)

// Result is one decoded symbol.
type Result struct {
	Text string

	// Bytes is the corrected data codeword stream the text was decoded from.
	Bytes []byte

	Version         int
	ECLevel         symbol.ECLevel
	Mask            int
	ECI             int
	FNC1            bitstream.FNC1
	CorrectedErrors int
	Segments        []bitstream.Segment

	// StructuredAppend is set when the symbol is part of a sequence.
	StructuredAppend *bitstream.StructuredAppend

	// Corners holds the top-left, top-right and bottom-left finder centres
	// followed by the fourth mapping anchor, all in image space.
	Corners        [4]sampler.Point
	AlignmentFound bool

	// Sequence is the frame sequence assigned by the caller, if any.
	Sequence  uint64
	DecodedAt time.Time

	Timings common.StageTimings
}

// Diagnostics describes what a decode attempt saw, successful or not.
type Diagnostics struct {
	Finders  []finder.Candidate
	Corners  int
	Attempts int
	Timings  common.StageTimings
}

// MinModuleSize is the smallest finder pitch seen, or 0 when no finder was
// found.
func (d Diagnostics) MinModuleSize() float64 {
	var smallest float64
	for _, f := range d.Finders {
		if m := f.ModuleSize(); smallest == 0 || m < smallest {
			smallest = m
		}
	}
	return smallest
}
