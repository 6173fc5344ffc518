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

// Package batch runs the scored recurrence over several sequence pairs
// at once, in lock step across lanes, the way a SIMD kernel would.
// Lane state is stored lane-major (index j*width + lane) so one row
// sweep touches all lanes of a column before moving on, and an active
// mask freezes lanes whose query is exhausted while longer ones keep
// going. Scores and end positions are identical to the scalar path,
// cell for cell, including tie-breaking.
package batch

import (
	"math"

	"github.com/shenwei356/seqalign/seqalign/align"
)

const negInf32 = math.MinInt32 / 4

// Pair is one query/target pair of rank-encoded sequences.
type Pair struct {
	ID     int
	Query  []byte
	Target []byte
}

// Executor aligns batches of pairs, width pairs per pass. Like an
// Aligner it owns reusable buffers and must not be shared between
// goroutines; create one per worker.
//
// Configurations the lane kernel can not express fall back to a scalar
// Aligner per pair, transparently: a band, edit distance, a lane width
// of 1, any output asking for alignment strings, and begin positions
// outside global mode (a trace-back has no lock-step formulation;
// global begins are fixed at the origin, so they cost nothing).
type Executor struct {
	cfg   align.Config
	width int

	scalar *align.Aligner // non-nil when falling back

	// lane-major state, grown on demand
	hh, ff []int32
	e      []int32
	diag   []int32
	srs    [][]int32 // per-lane substitution row for the current query symbol
	ns, ms []int
	best   []int32
	bis    []int
	bjs    []int
}

// NewExecutor validates the configuration and decides between the lane
// kernel and the scalar fallback.
func NewExecutor(cfg *align.Config) (*Executor, error) {
	c := *cfg
	if err := c.Validate(); err != nil {
		return nil, err
	}
	x := &Executor{cfg: c, width: c.Lanes}
	if c.Lanes == 1 ||
		c.EditDistance ||
		c.Has(align.OptBand) ||
		c.Output&align.OutputAlignment != 0 ||
		(c.Output&align.OutputBegin != 0 && c.Mode != align.Global) {
		a, err := align.NewAligner(&c)
		if err != nil {
			return nil, err
		}
		x.scalar = a
	}
	return x, nil
}

// Width returns the lane width of one pass.
func (x *Executor) Width() int { return x.width }

// Config returns the validated configuration the Executor runs with.
func (x *Executor) Config() *align.Config { return &x.cfg }

// Run aligns all pairs and returns one result slot and one error slot
// per pair, in input order, with Result.ID copied from Pair.ID. Pairs
// are processed width at a time; a short final chunk pads the unused
// lanes with empty sequences whose results are discarded.
//
// A failing pair (an edit distance beyond the configured cutoff, a
// band excluding its sink cell) carries the error in its slot and a
// nil result; sibling pairs of the same batch are unaffected.
func (x *Executor) Run(pairs []Pair) ([]*align.Result, []error) {
	results := make([]*align.Result, len(pairs))
	errs := make([]error, len(pairs))

	if x.scalar != nil {
		for i := range pairs {
			r, err := x.scalar.Align(pairs[i].Query, pairs[i].Target)
			if err != nil {
				errs[i] = err
				continue
			}
			r.ID = pairs[i].ID
			results[i] = r
		}
		return results, errs
	}

	for off := 0; off < len(pairs); off += x.width {
		end := off + x.width
		if end > len(pairs) {
			end = len(pairs)
		}
		x.runChunk(pairs[off:end], results[off:end])
	}
	return results, errs
}

func grow32(buf []int32, n int) []int32 {
	if cap(buf) >= n {
		return buf[:n]
	}
	return make([]int32, n)
}

func growInt(buf []int, n int) []int {
	if cap(buf) >= n {
		return buf[:n]
	}
	return make([]int, n)
}

// runChunk runs one lock-step pass over up to width pairs. The
// recurrence, boundary handling and end-cell selection mirror the
// scalar score sweep exactly; only the storage layout differs.
func (x *Executor) runChunk(pairs []Pair, out []*align.Result) {
	w := x.width
	k := len(pairs)
	gap := x.cfg.Gap
	local := x.cfg.Mode == align.Local
	row0Free, col0Free := boundaryFree(&x.cfg)
	lastRowFree, lastColFree := endFree(&x.cfg)

	x.ns = growInt(x.ns, w)
	x.ms = growInt(x.ms, w)
	ns, ms := x.ns, x.ms
	maxN, maxM := 0, 0
	for l := 0; l < w; l++ {
		if l < k {
			ns[l] = len(pairs[l].Query)
			ms[l] = len(pairs[l].Target)
		} else {
			ns[l], ms[l] = 0, 0 // padding lane
		}
		if ns[l] > maxN {
			maxN = ns[l]
		}
		if ms[l] > maxM {
			maxM = ms[l]
		}
	}

	x.hh = grow32(x.hh, (maxM+1)*w)
	x.ff = grow32(x.ff, (maxM+1)*w)
	x.e = grow32(x.e, w)
	x.diag = grow32(x.diag, w)
	x.best = grow32(x.best, w)
	x.bis = growInt(x.bis, w)
	x.bjs = growInt(x.bjs, w)
	if cap(x.srs) >= w {
		x.srs = x.srs[:w]
	} else {
		x.srs = make([][]int32, w)
	}
	hh, ff := x.hh, x.ff
	e, diag := x.e, x.diag
	best, bis, bjs := x.best, x.bis, x.bjs
	srs := x.srs

	// boundary row 0
	for l := 0; l < w; l++ {
		hh[l] = 0
		for j := 1; j <= ms[l]; j++ {
			if row0Free {
				hh[j*w+l] = 0
			} else {
				hh[j*w+l] = int32(gap.Cost(j))
			}
			ff[j*w+l] = negInf32
		}
		if local {
			best[l], bis[l], bjs[l] = 0, 0, 0
		} else {
			best[l], bis[l], bjs[l] = negInf32, ns[l], ms[l]
		}
		// column m of the boundary row is a valid end cell too
		if lastColFree && hh[ms[l]*w+l] > best[l] {
			best[l], bis[l], bjs[l] = hh[ms[l]*w+l], 0, ms[l]
		}
	}

	// one bit per lane still sweeping rows
	var active uint64
	for l := 0; l < k; l++ {
		if ns[l] > 0 {
			active |= 1 << uint(l)
		}
	}

	var f, h, s int32
	for i := 1; i <= maxN && active != 0; i++ {
		for l := 0; l < k; l++ {
			if active&(1<<uint(l)) == 0 {
				continue
			}
			diag[l] = hh[l]
			if col0Free {
				hh[l] = 0
			} else {
				hh[l] = int32(gap.Cost(i))
			}
			e[l] = negInf32
			srs[l] = x.cfg.Scoring.Row(pairs[l].Query[i-1])
			// an empty target never enters the column loop, so the
			// cell (i, 0) is its column-m end candidate
			if lastColFree && ms[l] == 0 && hh[l] > best[l] {
				best[l], bis[l], bjs[l] = hh[l], i, 0
			}
		}
		for j := 1; j <= maxM; j++ {
			for l := 0; l < k; l++ {
				if active&(1<<uint(l)) == 0 || j > ms[l] {
					continue
				}
				e[l] = max32(e[l]+int32(gap.Extend), hh[(j-1)*w+l]+int32(gap.Open+gap.Extend))
				f = max32(ff[j*w+l]+int32(gap.Extend), hh[j*w+l]+int32(gap.Open+gap.Extend))

				s = diag[l] + srs[l][pairs[l].Target[j-1]]
				h = s
				if f > h {
					h = f
				}
				if e[l] > h {
					h = e[l]
				}
				if local && h < 0 {
					h = 0
				}

				diag[l] = hh[j*w+l]
				hh[j*w+l] = h
				ff[j*w+l] = f

				if local && h > best[l] {
					best[l], bis[l], bjs[l] = h, i, j
				}
				if lastColFree && j == ms[l] && h > best[l] {
					best[l], bis[l], bjs[l] = h, i, j
				}
			}
		}
		// freeze lanes whose query ends at this row
		for l := 0; l < k; l++ {
			if active&(1<<uint(l)) != 0 && i == ns[l] {
				active &^= 1 << uint(l)
				x.finalize(l, pairs, out, local, lastRowFree, lastColFree)
			}
		}
	}
	// lanes with empty queries never entered the row loop
	for l := 0; l < k; l++ {
		if ns[l] == 0 {
			x.finalize(l, pairs, out, local, lastRowFree, lastColFree)
		}
	}
}

// finalize applies the end-cell selection of the scalar sweep to one
// frozen lane, in the same candidate order so ties resolve identically.
func (x *Executor) finalize(l int, pairs []Pair, out []*align.Result, local, lastRowFree, lastColFree bool) {
	w := x.width
	n, m := x.ns[l], x.ms[l]
	hh := x.hh
	best, bi, bj := x.best[l], x.bis[l], x.bjs[l]

	switch {
	case local:
		// best cell already tracked during the sweep
	case lastRowFree || lastColFree:
		if hh[m*w+l] > best {
			best, bi, bj = hh[m*w+l], n, m
		}
		if lastRowFree {
			for j := 0; j <= m; j++ {
				if hh[j*w+l] > best {
					best, bi, bj = hh[j*w+l], n, j
				}
			}
		}
	default:
		best, bi, bj = hh[m*w+l], n, m
	}

	r := align.NewResult()
	r.ID = pairs[l].ID
	r.Score = int(best)
	r.QEnd, r.TEnd = bi, bj
	out[l] = r
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func boundaryFree(c *align.Config) (row0Free, col0Free bool) {
	switch c.Mode {
	case align.Local:
		return true, true
	case align.SemiGlobal:
		return c.EndGaps.Seq1Leading, c.EndGaps.Seq2Leading
	}
	return false, false
}

func endFree(c *align.Config) (lastRowFree, lastColFree bool) {
	if c.Mode != align.SemiGlobal {
		return false, false
	}
	return c.EndGaps.Seq1Trailing, c.EndGaps.Seq2Trailing
}
