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

import "errors"

// ErrMaxErrorsExceeded is returned for a pair whose edit distance
// provably exceeds the configured cutoff; the column sweep is
// abandoned as soon as the cutoff is out of reach.
var ErrMaxErrorsExceeded = errors.New("align: max error cutoff exceeded")

// editDistance computes the global unit-cost edit distance with Myers'
// bit-vector recurrence (Hyyrö's formulation) and stores it as a
// negative score. Sequence 1 is the pattern: one bit per symbol, one
// word per 64 rows.
func (a *Aligner) editDistance(q, t []byte, r *Result) error {
	n, m := len(q), len(t)
	cut := a.cfg.MaxErrors

	r.QEnd, r.TEnd = n, m

	// boundary-only cases
	if n == 0 || m == 0 {
		d := n + m
		if cut >= 0 && d > cut {
			return ErrMaxErrorsExceeded
		}
		r.Score = -d
		return nil
	}

	var d int
	var err error
	if n <= 64 {
		d, err = a.myers64(q, t)
	} else {
		d, err = a.myersBlocks(q, t)
	}
	if err != nil {
		return err
	}
	r.Score = -d
	return nil
}

func growUint64(buf []uint64, n int) []uint64 {
	if cap(buf) >= n {
		return buf[:n]
	}
	return make([]uint64, n)
}

// myers64 is the single-word kernel for patterns of up to 64 symbols.
// a.peq must be all-zero on entry and is restored to all-zero before
// returning, so consecutive calls need no table reset.
func (a *Aligner) myers64(q, t []byte) (int, error) {
	n, m := len(q), len(t)
	cut := a.cfg.MaxErrors

	peq := growUint64(a.peq, 256)
	a.peq = peq
	for i, c := range q {
		peq[c] |= 1 << uint(i)
	}
	clear := func() {
		for _, c := range q {
			peq[c] = 0
		}
	}

	vp := ^uint64(0)
	vn := uint64(0)
	score := n
	mask := uint64(1) << uint(n-1)

	var eq, xv, xh, ph, mh uint64
	for j := 0; j < m; j++ {
		eq = peq[t[j]]
		xv = eq | vn
		xh = (((eq & vp) + vp) ^ vp) | eq
		ph = vn | ^(xh | vp)
		mh = vp & xh

		if ph&mask != 0 {
			score++
		} else if mh&mask != 0 {
			score--
		}

		// the shifted-in 1 keeps row 0 at D[0][j] = j (global mode)
		ph = ph<<1 | 1
		mh <<= 1
		vp = mh | ^(xv | ph)
		vn = ph & xv

		// best achievable final distance: every remaining column can
		// lower the bottom-row value by at most 1
		if cut >= 0 && score-(m-j-1) > cut {
			clear()
			return 0, ErrMaxErrorsExceeded
		}
	}
	clear()
	return score, nil
}

// myersBlocks extends the kernel to patterns longer than 64 symbols,
// chaining the horizontal carry through a word per 64-row block.
// Garbage above the pattern's top bit in the last block never leaks
// downward: carries and shifts only move upward.
func (a *Aligner) myersBlocks(q, t []byte) (int, error) {
	n, m := len(q), len(t)
	cut := a.cfg.MaxErrors
	nb := (n + 63) / 64

	peq := growUint64(a.peq, 256*nb)
	a.peq = peq
	for i, c := range q {
		peq[int(c)*nb+i/64] |= 1 << uint(i%64)
	}
	clear := func() {
		for _, c := range q {
			base := int(c) * nb
			for b := 0; b < nb; b++ {
				peq[base+b] = 0
			}
		}
	}

	vps := growUint64(a.vps, nb)
	vns := growUint64(a.vns, nb)
	a.vps, a.vns = vps, vns
	for b := 0; b < nb; b++ {
		vps[b] = ^uint64(0)
		vns[b] = 0
	}

	score := n
	lastMask := uint64(1) << uint((n-1)%64)

	var eq, xv, xh, ph, mh, hbit, hinIsNeg uint64
	var hin, hout int
	for j := 0; j < m; j++ {
		hin = 1 // row 0 stays at D[0][j] = j
		base := int(t[j]) * nb
		for b := 0; b < nb; b++ {
			eq = peq[base+b]
			hinIsNeg = 0
			if hin < 0 {
				hinIsNeg = 1
			}

			xv = eq | vns[b]
			eq |= hinIsNeg
			xh = (((eq & vps[b]) + vps[b]) ^ vps[b]) | eq
			ph = vns[b] | ^(xh | vps[b])
			mh = vps[b] & xh

			hbit = 1 << 63
			if b == nb-1 {
				hbit = lastMask
			}
			hout = 0
			if ph&hbit != 0 {
				hout = 1
			} else if mh&hbit != 0 {
				hout = -1
			}

			ph <<= 1
			mh <<= 1
			mh |= hinIsNeg
			if hin > 0 {
				ph |= 1
			}
			vps[b] = mh | ^(xv | ph)
			vns[b] = ph & xv

			hin = hout
		}
		score += hin

		if cut >= 0 && score-(m-j-1) > cut {
			clear()
			return 0, ErrMaxErrorsExceeded
		}
	}
	clear()
	return score, nil
}
