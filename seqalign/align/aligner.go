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
	"fmt"
	"math"
)

// negInf is a score low enough to never win a max() yet far from
// wrapping around when gap costs are added to it.
const negInf = math.MinInt / 4

// direction flags packed into one byte per cell.
// bits 0-1 hold the source of H, the rest annotate E/F continuation
// and whether the diagonal step was a match.
const (
	hStop byte = iota // no predecessor, trace-back ends here
	hDiag             // H[i-1][j-1] + score
	hUp               // F, a gap in sequence 2
	hLeft             // E, a gap in sequence 1

	hMask byte = 0x03
	eExt  byte = 0x04 // E extends E[i][j-1] instead of opening from H
	fExt  byte = 0x08 // F extends F[i-1][j] instead of opening from H
	dMat  byte = 0x10 // the diagonal step was a match
)

// kernel is the concrete recurrence selected once per configuration.
type kernel uint8

const (
	kernelScore  kernel = iota // score + end positions, O(m) memory
	kernelTrace                // full direction matrix, O(n*m) memory
	kernelLinear               // linear-space trace-back
	kernelBanded               // banded, O(n*band) memory
	kernelEdit                 // bit-vector edit distance
)

// Aligner runs the dynamic-programming recurrence for one pair of
// sequences at a time. It owns reusable score/direction buffers, so an
// Aligner must not be shared between goroutines; create one per worker.
//
// Sequences are rank-encoded: each byte must be a valid rank of the
// configured scoring scheme's alphabet.
type Aligner struct {
	cfg Config
	k   kernel

	// Alphabet optionally maps ranks back to display letters for the
	// gapped alignment strings; when nil the rank bytes are emitted.
	Alphabet []byte

	// SaveMatrix dumps the score/direction matrix into Result.Matrix.
	// Only honored by the full-trace kernel, and only for debugging.
	SaveMatrix bool

	// reusable buffers, grown on demand
	hh, ff     []int  // one row of H, one column-carried row of F
	h2, f2     []int  // second set for the linear-space reverse pass
	ptrs       []byte   // full or banded direction matrix
	scores     []int    // full score matrix, kept only for SaveMatrix
	peq        []uint64 // bit-vector match table, kept all-zero between calls
	vps, vns   []uint64
	buf        bytes.Buffer
}

// NewAligner validates the configuration and resolves the concrete
// recurrence kernel. The returned Aligner is ready for any number of
// Align calls.
func NewAligner(cfg *Config) (*Aligner, error) {
	c := *cfg
	if err := c.Validate(); err != nil {
		return nil, err
	}
	a := &Aligner{cfg: c}
	a.k = resolveKernel(&a.cfg)
	return a, nil
}

// resolveKernel picks the recurrence variant once; per-cell code never
// switches on the configuration again.
func resolveKernel(c *Config) kernel {
	switch {
	case c.EditDistance:
		// begin positions are trivially (0, 0) in global mode, so only
		// alignment strings force the fallback
		if c.Output&OutputAlignment != 0 {
			// the bit-vector kernel only yields a distance; fall back
			// to the scored recurrence with unit costs, which produces
			// the same score (= -distance) plus a trace
			c.Scoring = editScoring()
			c.Gap = LinearGap(-1)
			if c.Trace == TraceLinearSpace {
				return kernelLinear
			}
			return kernelTrace
		}
		return kernelEdit
	case c.Has(OptBand):
		return kernelBanded
	case c.Output&(OutputAlignment|OutputBegin) == 0:
		return kernelScore
	case c.Trace == TraceLinearSpace:
		return kernelLinear
	default:
		return kernelTrace
	}
}

// Config returns the validated configuration the Aligner runs with.
func (a *Aligner) Config() *Config { return &a.cfg }

// Align aligns the rank-encoded sequences q and t and returns a pooled
// Result. Recycle it with RecycleResult when done.
func (a *Aligner) Align(q, t []byte) (*Result, error) {
	r := NewResult()
	var err error
	switch a.k {
	case kernelEdit:
		err = a.editDistance(q, t, r)
	case kernelBanded:
		err = a.banded(q, t, r)
	case kernelScore:
		err = a.scoreOnly(q, t, r)
	case kernelLinear:
		err = a.linearSpace(q, t, r)
	default:
		err = a.fullTrace(q, t, r)
	}
	if err != nil {
		RecycleResult(r)
		return nil, err
	}
	return r, nil
}

// grow returns buf resized to n, reusing its backing array.
func grow(buf []int, n int) []int {
	if cap(buf) >= n {
		return buf[:n]
	}
	return make([]int, n)
}

func growBytes(buf []byte, n int) []byte {
	if cap(buf) >= n {
		return buf[:n]
	}
	return make([]byte, n)
}

// boundaryFree reports cost-free leading overhangs under the
// configured mode. row0Free: leading gaps in sequence 1 are free,
// i.e. H[0][j] = 0. col0Free: leading gaps in sequence 2 are free,
// i.e. H[i][0] = 0.
func (a *Aligner) boundaryFree() (row0Free, col0Free bool) {
	switch a.cfg.Mode {
	case Local:
		return true, true
	case SemiGlobal:
		return a.cfg.EndGaps.Seq1Leading, a.cfg.EndGaps.Seq2Leading
	}
	return false, false
}

// endFree reports which trailing overhangs are cost-free:
// lastRowFree permits the alignment to end anywhere in the last row
// (trailing gaps in sequence 1), lastColFree anywhere in the last
// column (trailing gaps in sequence 2).
func (a *Aligner) endFree() (lastRowFree, lastColFree bool) {
	if a.cfg.Mode != SemiGlobal {
		return false, false
	}
	return a.cfg.EndGaps.Seq1Trailing, a.cfg.EndGaps.Seq2Trailing
}

// ----------------------------------------------------------------------
// score-only kernel: one row of H and F each, O(m) memory.

func (a *Aligner) scoreOnly(q, t []byte, r *Result) error {
	row0Free, col0Free := a.boundaryFree()
	lastRowFree, lastColFree := a.endFree()
	score, bi, bj := a.sweep(q, t, row0Free, col0Free, a.cfg.Mode == Local, lastRowFree, lastColFree)
	r.Score = score
	r.QEnd, r.TEnd = bi, bj
	return nil
}

// sweep runs one score-only pass with explicit boundary flags; the
// linear-space kernel reuses it on reversed prefixes to locate begin
// coordinates.
func (a *Aligner) sweep(q, t []byte, row0Free, col0Free, local, lastRowFree, lastColFree bool) (int, int, int) {
	n, m := len(q), len(t)
	gap := a.cfg.Gap

	hh := grow(a.hh, m+1)
	ff := grow(a.ff, m+1)
	a.hh, a.ff = hh, ff

	hh[0] = 0
	for j := 1; j <= m; j++ {
		if row0Free {
			hh[j] = 0
		} else {
			hh[j] = gap.Cost(j)
		}
		ff[j] = negInf
	}

	best := negInf
	bi, bj := n, m
	if local {
		best, bi, bj = 0, 0, 0
	}
	// column m of the boundary row is a valid end cell too
	if lastColFree && hh[m] > best {
		best, bi, bj = hh[m], 0, m
	}

	var e, f, h, diag, s int
	var sr []int32
	for i := 1; i <= n; i++ {
		diag = hh[0]
		if col0Free {
			hh[0] = 0
		} else {
			hh[0] = gap.Cost(i)
		}
		e = negInf
		sr = a.cfg.Scoring.Row(q[i-1])
		for j := 1; j <= m; j++ {
			e = max2(e+gap.Extend, hh[j-1]+gap.Open+gap.Extend)
			f = max2(ff[j]+gap.Extend, hh[j]+gap.Open+gap.Extend)

			s = diag + int(sr[t[j-1]])
			h = s
			if f > h {
				h = f
			}
			if e > h {
				h = e
			}
			if local && h < 0 {
				h = 0
			}

			diag = hh[j]
			hh[j] = h
			ff[j] = f

			if local && h > best {
				best, bi, bj = h, i, j
			}
		}
		// for an empty target, hh[m] is hh[0], the cell (i, 0)
		if lastColFree && hh[m] > best {
			best, bi, bj = hh[m], i, m
		}
	}

	switch {
	case local:
		return best, bi, bj
	case lastRowFree || lastColFree:
		if hh[m] > best {
			best, bi, bj = hh[m], n, m
		}
		if lastRowFree {
			for j := 0; j <= m; j++ {
				if hh[j] > best {
					best, bi, bj = hh[j], n, j
				}
			}
		}
		return best, bi, bj
	}
	return hh[m], n, m
}

func max2(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ----------------------------------------------------------------------
// full-trace kernel: the score rows plus a complete direction matrix.

func (a *Aligner) fullTrace(q, t []byte, r *Result) error {
	n, m := len(q), len(t)
	w := m + 1
	if n+1 > math.MaxInt/w {
		return fmt.Errorf("align: trace matrix of %d x %d cells is too large, use linear-space trace-back", n+1, m+1)
	}
	gap := a.cfg.Gap
	local := a.cfg.Mode == Local
	row0Free, col0Free := a.boundaryFree()
	lastRowFree, lastColFree := a.endFree()

	hh := grow(a.hh, m+1)
	ff := grow(a.ff, m+1)
	ptrs := growBytes(a.ptrs, (n+1)*w)
	a.hh, a.ff, a.ptrs = hh, ff, ptrs

	var scores []int
	if a.SaveMatrix {
		scores = grow(a.scores, (n+1)*w)
		a.scores = scores
		scores[0] = 0
	}

	// boundary row
	hh[0] = 0
	ptrs[0] = hStop
	for j := 1; j <= m; j++ {
		if row0Free {
			hh[j] = 0
			ptrs[j] = hStop
		} else {
			hh[j] = gap.Cost(j)
			p := hLeft
			if j > 1 {
				p |= eExt
			}
			ptrs[j] = p
		}
		ff[j] = negInf
		if scores != nil {
			scores[j] = hh[j]
		}
	}

	best := negInf
	bi, bj := n, m
	if local {
		best, bi, bj = 0, 0, 0
	}
	// column m of the boundary row is a valid end cell too
	if lastColFree && hh[m] > best {
		best, bi, bj = hh[m], 0, m
	}

	var e, f, h, diag, k int
	var p, src byte
	var sr []int32
	for i := 1; i <= n; i++ {
		k = i * w
		diag = hh[0]
		if col0Free {
			hh[0] = 0
			ptrs[k] = hStop
		} else {
			hh[0] = gap.Cost(i)
			p = hUp
			if i > 1 {
				p |= fExt
			}
			ptrs[k] = p
		}
		if scores != nil {
			scores[k] = hh[0]
		}
		e = negInf
		sr = a.cfg.Scoring.Row(q[i-1])
		for j := 1; j <= m; j++ {
			p = 0

			// E: gap in sequence 1 (left)
			eo := hh[j-1] + gap.Open + gap.Extend
			if ext := e + gap.Extend; ext > eo {
				e = ext
				p |= eExt
			} else {
				e = eo
			}

			// F: gap in sequence 2 (up)
			fo := hh[j] + gap.Open + gap.Extend
			if ext := ff[j] + gap.Extend; ext > fo {
				f = ext
				p |= fExt
			} else {
				f = fo
			}

			// H with the fixed tie-break order: diagonal > up > left
			h = diag + int(sr[t[j-1]])
			src = hDiag
			if f > h {
				h = f
				src = hUp
			}
			if e > h {
				h = e
				src = hLeft
			}
			if local && h < 0 {
				h = 0
				src = hStop
			}
			p |= src
			if src == hDiag && q[i-1] == t[j-1] {
				p |= dMat
			}

			ptrs[k+j] = p
			diag = hh[j]
			hh[j] = h
			ff[j] = f
			if scores != nil {
				scores[k+j] = h
			}

			if local && h > best {
				best, bi, bj = h, i, j
			}
		}
		// for an empty target, hh[m] is hh[0], the cell (i, 0)
		if lastColFree && hh[m] > best {
			best, bi, bj = hh[m], i, m
		}
	}

	switch {
	case local:
		r.Score = best
	case lastRowFree || lastColFree:
		if hh[m] > best {
			best, bi, bj = hh[m], n, m
		}
		if lastRowFree {
			for j := 0; j <= m; j++ {
				if hh[j] > best {
					best, bi, bj = hh[j], n, j
				}
			}
		}
		r.Score = best
	default:
		r.Score = hh[m]
	}
	r.QEnd, r.TEnd = bi, bj

	if a.SaveMatrix {
		r.Matrix = a.printMatrix(q, t, scores, ptrs, w, n, m)
	}

	a.traceback(q, t, func(i, j int) byte { return ptrs[i*w+j] }, bi, bj, r)
	return nil
}

// traceback walks the direction matrix from (bi,bj) back to a stop
// cell, filling begin positions and, when requested, the gapped
// alignment strings. at provides the direction byte of a cell, so the
// full-matrix and banded kernels can share the walker.
func (a *Aligner) traceback(q, t []byte, at func(i, j int) byte, bi, bj int, r *Result) {
	wantAln := a.cfg.Output&OutputAlignment != 0
	i, j := bi, bj

	// Leaving a cell through E or F follows a whole affine gap run;
	// the eExt/fExt bits tell how far the run continues.
	var p, step byte
	inE, inF := false, false
	for {
		p = at(i, j)
		switch {
		case inE:
			step = hLeft
			if p&eExt == 0 {
				inE = false
			}
		case inF:
			step = hUp
			if p&fExt == 0 {
				inF = false
			}
		default:
			step = p & hMask
			if step == hStop {
				r.QBegin, r.TBegin = i, j
				if wantAln {
					reverseBytes(r.AlignQ)
					reverseBytes(r.AlignM)
					reverseBytes(r.AlignT)
				}
				return
			}
			if step == hLeft && p&eExt != 0 {
				inE = true
			}
			if step == hUp && p&fExt != 0 {
				inF = true
			}
		}

		r.Len++
		switch step {
		case hDiag:
			if p&dMat != 0 {
				r.Matches++
			}
			if wantAln {
				r.AlignQ = append(r.AlignQ, a.sym(q[i-1]))
				r.AlignT = append(r.AlignT, a.sym(t[j-1]))
				if p&dMat != 0 {
					r.AlignM = append(r.AlignM, matchSymbol)
				} else {
					r.AlignM = append(r.AlignM, blankSymbol)
				}
			}
			i--
			j--
		case hUp: // gap in sequence 2
			r.Gaps++
			if wantAln {
				r.AlignQ = append(r.AlignQ, a.sym(q[i-1]))
				r.AlignT = append(r.AlignT, gapSymbol)
				r.AlignM = append(r.AlignM, blankSymbol)
			}
			i--
		case hLeft: // gap in sequence 1
			r.Gaps++
			if wantAln {
				r.AlignQ = append(r.AlignQ, gapSymbol)
				r.AlignT = append(r.AlignT, a.sym(t[j-1]))
				r.AlignM = append(r.AlignM, blankSymbol)
			}
			j--
		}
	}
}

func (a *Aligner) sym(rank byte) byte {
	if a.Alphabet != nil && int(rank) < len(a.Alphabet) {
		return a.Alphabet[rank]
	}
	return rank
}

func reverseBytes(s []byte) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// printMatrix dumps scores and directions, for debugging only.
func (a *Aligner) printMatrix(q, t []byte, scores []int, ptrs []byte, w, n, m int) []byte {
	buf := &a.buf
	buf.Reset()

	arrows := [4]byte{'x', '\\', '|', '-'}

	buf.WriteString("      ")
	for j := 0; j < m; j++ {
		fmt.Fprintf(buf, " %4c ", a.sym(t[j]))
	}
	buf.WriteByte('\n')
	for i := 0; i <= n; i++ {
		if i == 0 {
			buf.WriteByte(' ')
		} else {
			buf.WriteByte(a.sym(q[i-1]))
		}
		for j := 0; j <= m; j++ {
			k := i*w + j
			var sc int
			if scores != nil {
				sc = scores[k]
			}
			fmt.Fprintf(buf, " %c%4d", arrows[ptrs[k]&hMask], sc)
		}
		buf.WriteByte('\n')
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}
