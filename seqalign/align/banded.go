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

import "fmt"

// banded restricts the recurrence to the diagonal corridor
// [Band.Lower, Band.Upper], where cell (i,j) lies on diagonal j-i.
// Cells outside the corridor are implicitly -inf. Memory is
// O(n*bandwidth): two score rows plus, when a trace is requested, a
// band-shaped direction matrix. Row i stores its cells at band
// positions j-i-lower.
func (a *Aligner) banded(q, t []byte, r *Result) error {
	n, m := len(q), len(t)
	lo, hi := a.cfg.Band.Lower, a.cfg.Band.Upper
	bw := hi - lo + 1
	gap := a.cfg.Gap
	local := a.cfg.Mode == Local
	row0Free, col0Free := a.boundaryFree()
	lastRowFree, lastColFree := a.endFree()
	wantTrace := a.cfg.Output&(OutputAlignment|OutputBegin) != 0

	if !local && !lastRowFree && !lastColFree && (m-n < lo || m-n > hi) {
		return fmt.Errorf("align: band [%d, %d] excludes the sink cell on diagonal %d", lo, hi, m-n)
	}

	// one sentinel slot at index bw stays -inf for p+1 accesses
	hprev := grow(a.hh, bw+1)
	hcur := grow(a.h2, bw+1)
	fprev := grow(a.ff, bw+1)
	fcur := grow(a.f2, bw+1)
	a.hh, a.h2, a.ff, a.f2 = hprev, hcur, fprev, fcur

	var ptrs []byte
	if wantTrace {
		ptrs = growBytes(a.ptrs, (n+1)*bw)
		a.ptrs = ptrs
		for i := range ptrs {
			ptrs[i] = hStop
		}
	}

	for p := 0; p <= bw; p++ {
		hprev[p] = negInf
		fprev[p] = negInf
	}

	// boundary row 0: j in [max(0,lo), min(m,hi)]
	for j := max2(0, lo); j <= min2(m, hi); j++ {
		p := j - lo
		switch {
		case j == 0:
			hprev[p] = 0
		case row0Free:
			hprev[p] = 0
		default:
			hprev[p] = gap.Cost(j)
			if wantTrace {
				d := hLeft
				if j > 1 {
					d |= eExt
				}
				ptrs[p] = d
			}
		}
	}

	best := negInf
	bi, bj := n, m
	if local {
		best, bi, bj = 0, 0, 0
	}
	// column m of the boundary row is a valid end cell too
	if lastColFree && m >= lo && m <= hi && hprev[m-lo] > best {
		best, bi, bj = hprev[m-lo], 0, m
	}
	var e, f, h, hd, hu, hl int
	var d, src byte
	var sr []int32
	for i := 1; i <= n; i++ {
		jmin := max2(0, i+lo)
		jmax := min2(m, i+hi)
		for p := 0; p <= bw; p++ {
			hcur[p] = negInf
			fcur[p] = negInf
		}
		if jmin > jmax {
			hprev, hcur = hcur, hprev
			fprev, fcur = fcur, fprev
			continue
		}

		e = negInf
		sr = a.cfg.Scoring.Row(q[i-1])
		for j := jmin; j <= jmax; j++ {
			p := j - i - lo

			if j == 0 {
				if col0Free {
					hcur[p] = 0
				} else {
					hcur[p] = gap.Cost(i)
					if wantTrace {
						d = hUp
						if i > 1 {
							d |= fExt
						}
						ptrs[i*bw+p] = d
					}
				}
				continue
			}

			d = 0

			// E: gap in sequence 1 (left), same row
			if p > 0 {
				eo := hcur[p-1] + gap.Open + gap.Extend
				if ext := e + gap.Extend; ext > eo {
					e = ext
					d |= eExt
				} else {
					e = eo
				}
			} else {
				e = negInf
			}

			// F: gap in sequence 2 (up), previous row at p+1
			fo := hprev[p+1] + gap.Open + gap.Extend
			if ext := fprev[p+1] + gap.Extend; ext > fo {
				f = ext
				d |= fExt
			} else {
				f = fo
			}

			hd = hprev[p] + int(sr[t[j-1]])
			hu = f
			hl = e

			h = hd
			src = hDiag
			if hu > h {
				h = hu
				src = hUp
			}
			if hl > h {
				h = hl
				src = hLeft
			}
			if local && h < 0 {
				h = 0
				src = hStop
			}

			hcur[p] = h
			fcur[p] = f
			if wantTrace {
				d |= src
				if src == hDiag && q[i-1] == t[j-1] {
					d |= dMat
				}
				ptrs[i*bw+p] = d
			}

			if local && h > best {
				best, bi, bj = h, i, j
			}
		}
		if lastColFree && m >= jmin && m <= jmax && hcur[m-i-lo] > best {
			best, bi, bj = hcur[m-i-lo], i, m
		}

		hprev, hcur = hcur, hprev
		fprev, fcur = fcur, fprev
	}

	// hprev now holds the last computed row (row n)
	sinkInBand := m-n >= lo && m-n <= hi
	switch {
	case local:
		r.Score = best
	case lastRowFree || lastColFree:
		if sinkInBand && hprev[m-n-lo] > best {
			best, bi, bj = hprev[m-n-lo], n, m
		}
		if lastRowFree {
			for j := max2(0, n+lo); j <= min2(m, n+hi); j++ {
				if hprev[j-n-lo] > best {
					best, bi, bj = hprev[j-n-lo], n, j
				}
			}
		}
		if best == negInf {
			return fmt.Errorf("align: band [%d, %d] excludes all permitted end cells", lo, hi)
		}
		r.Score = best
	default:
		r.Score = hprev[m-n-lo]
	}
	r.QEnd, r.TEnd = bi, bj

	if wantTrace {
		a.traceback(q, t, func(i, j int) byte {
			p := j - i - lo
			if p < 0 || p >= bw {
				return hStop
			}
			return ptrs[i*bw+p]
		}, bi, bj, r)
	}
	return nil
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}
