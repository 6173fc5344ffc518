// Copyright © 2023-2024 Wei Shen <shenwei356@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package align

import (
	"bytes"
	"strconv"
	"sync"
)

// Result holds the outcome of aligning one pair of sequences.
// Which fields are filled in depends on the configured OutputFields.
// Results are pooled; call RecycleResult when done with one.
type Result struct {
	ID int // index of the pair in its input stream

	Score int

	// 0-based half-open coordinates of the aligned regions.
	// For global alignments these span the whole sequences.
	QBegin, QEnd int
	TBegin, TEnd int

	// filled in when OutputAlignment is requested
	Len     int // length of the gapped alignment
	Matches int
	Gaps    int

	AlignQ []byte // gapped sequence 1
	AlignM []byte // "|" for match, " " otherwise
	AlignT []byte // gapped sequence 2

	Matrix []byte // score/direction matrix dump, only with SaveMatrix
}

// Reset clears all fields, keeping allocated buffers.
func (r *Result) Reset() {
	r.ID = 0
	r.Score = 0
	r.QBegin, r.QEnd, r.TBegin, r.TEnd = 0, 0, 0, 0
	r.Len, r.Matches, r.Gaps = 0, 0, 0
	if r.AlignQ != nil {
		r.AlignQ = r.AlignQ[:0]
	}
	if r.AlignM != nil {
		r.AlignM = r.AlignM[:0]
	}
	if r.AlignT != nil {
		r.AlignT = r.AlignT[:0]
	}
	r.Matrix = nil
}

var poolResult = &sync.Pool{New: func() interface{} {
	r := &Result{}
	r.AlignQ = make([]byte, 0, 1024)
	r.AlignM = make([]byte, 0, 1024)
	r.AlignT = make([]byte, 0, 1024)
	return r
}}

// NewResult returns a clean Result from the object pool.
func NewResult() *Result {
	r := poolResult.Get().(*Result)
	r.Reset()
	return r
}

// RecycleResult returns a Result to the object pool.
func RecycleResult(r *Result) {
	if r != nil {
		poolResult.Put(r)
	}
}

// PIdent returns the percentage of identical symbols in the gapped
// alignment, 0 when no alignment was produced.
func (r *Result) PIdent() float64 {
	if r.Len == 0 {
		return 0
	}
	return float64(r.Matches) / float64(r.Len) * 100
}

// CIGAR renders the gapped alignment as a CIGAR string over the
// alignment columns: = for match, X for mismatch, I for a gap in
// sequence 1 (insertion to it), D for a gap in sequence 2.
// With extended false, =/X are merged into M.
// Returns nil when no alignment strings are present.
func (r *Result) CIGAR(extended bool) []byte {
	if len(r.AlignQ) == 0 {
		return nil
	}
	var buf bytes.Buffer
	var op, lastOp byte
	var n int
	for i := range r.AlignQ {
		switch {
		case r.AlignQ[i] == gapSymbol:
			op = 'I'
		case r.AlignT[i] == gapSymbol:
			op = 'D'
		case r.AlignM[i] == matchSymbol:
			op = '='
		default:
			op = 'X'
		}
		if !extended && (op == '=' || op == 'X') {
			op = 'M'
		}
		if op != lastOp && n > 0 {
			buf.WriteString(strconv.Itoa(n))
			buf.WriteByte(lastOp)
			n = 0
		}
		lastOp = op
		n++
	}
	if n > 0 {
		buf.WriteString(strconv.Itoa(n))
		buf.WriteByte(lastOp)
	}
	return buf.Bytes()
}

const (
	gapSymbol   = '-'
	matchSymbol = '|'
	blankSymbol = ' '
)
