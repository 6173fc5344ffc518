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

// linearSpace produces a full alignment in O(min-side) memory with the
// Myers-Miller divide-and-conquer recursion (Hirschberg's scheme
// extended to affine gaps). The trace is rebuilt from score vectors
// only: a forward half-pass, a reverse half-pass, a split column, and
// recursion into the two halves, operating on index ranges of the
// original sequences. The alignment may differ from the full-matrix
// kernel in tied regions but always carries the same score.
func (a *Aligner) linearSpace(q, t []byte, r *Result) error {
	// ends under the configured mode
	if err := a.scoreOnly(q, t, r); err != nil {
		return err
	}
	bi, bj := r.QEnd, r.TEnd

	// begins: for global alignments the origin, otherwise located by a
	// reverse sweep anchored at the end cell
	qb, tb := 0, 0
	switch a.cfg.Mode {
	case Local:
		qb, tb = a.beginOfReverse(q, t, bi, bj, true, true)
	case SemiGlobal:
		qb, tb = a.beginOfReverse(q, t, bi, bj,
			a.cfg.EndGaps.Seq1Leading, a.cfg.EndGaps.Seq2Leading)
	}
	r.QBegin, r.TBegin = qb, tb

	if a.cfg.Output&OutputAlignment == 0 {
		return nil
	}

	// the aligned core is a global alignment of q[qb:bi] vs t[tb:bj]
	cq, ct := q[qb:bi], t[tb:bj]
	m := len(ct)
	c := &mmCtx{
		a: a, q: cq, t: ct, r: r,
		wantAln: true,
		cc:      grow(a.hh, m+1),
		dd:      grow(a.ff, m+1),
		rr:      grow(a.h2, m+1),
		ss:      grow(a.f2, m+1),
	}
	a.hh, a.ff, a.h2, a.f2 = c.cc, c.dd, c.rr, c.ss
	c.diff(0, len(cq), 0, m, a.cfg.Gap.Open, a.cfg.Gap.Open)
	return nil
}

// beginOfReverse finds the begin coordinates of an alignment known to
// end at (bi, bj): the best suffix alignment of the two prefixes,
// computed by a score sweep over the reversed prefixes. freeLead1 and
// freeLead2 mark which leading overhangs of the original problem are
// cost-free, which become free trailing ends in the reversed one.
func (a *Aligner) beginOfReverse(q, t []byte, bi, bj int, freeLead1, freeLead2 bool) (int, int) {
	qr := make([]byte, bi)
	tr := make([]byte, bj)
	for i := 0; i < bi; i++ {
		qr[i] = q[bi-1-i]
	}
	for j := 0; j < bj; j++ {
		tr[j] = t[bj-1-j]
	}
	_, ei, ej := a.sweep(qr, tr, false, false, false, freeLead1, freeLead2)
	return bi - ei, bj - ej
}

// mmCtx carries the shared state of one Myers-Miller recursion:
// the core sequences, the emit cursors and the four score vectors
// (forward H and vertical-gap scores, and their reverse counterparts),
// indexed by absolute column so the recursion can share them.
type mmCtx struct {
	a    *Aligner
	q, t []byte
	r    *Result

	qi, tj  int // emit cursors
	wantAln bool

	cc, dd, rr, ss []int
}

func (c *mmCtx) gapCost(k int) int {
	if k == 0 {
		return 0
	}
	return c.a.cfg.Gap.Open + k*c.a.cfg.Gap.Extend
}

// del emits k gap columns consuming sequence 1 (gaps in sequence 2).
func (c *mmCtx) del(k int) {
	r := c.r
	for ; k > 0; k-- {
		r.Len++
		r.Gaps++
		if c.wantAln {
			r.AlignQ = append(r.AlignQ, c.a.sym(c.q[c.qi]))
			r.AlignT = append(r.AlignT, gapSymbol)
			r.AlignM = append(r.AlignM, blankSymbol)
		}
		c.qi++
	}
}

// ins emits k gap columns consuming sequence 2 (gaps in sequence 1).
func (c *mmCtx) ins(k int) {
	r := c.r
	for ; k > 0; k-- {
		r.Len++
		r.Gaps++
		if c.wantAln {
			r.AlignQ = append(r.AlignQ, gapSymbol)
			r.AlignT = append(r.AlignT, c.a.sym(c.t[c.tj]))
			r.AlignM = append(r.AlignM, blankSymbol)
		}
		c.tj++
	}
}

// rep emits one substitution column.
func (c *mmCtx) rep() {
	r := c.r
	r.Len++
	match := c.q[c.qi] == c.t[c.tj]
	if match {
		r.Matches++
	}
	if c.wantAln {
		r.AlignQ = append(r.AlignQ, c.a.sym(c.q[c.qi]))
		r.AlignT = append(r.AlignT, c.a.sym(c.t[c.tj]))
		if match {
			r.AlignM = append(r.AlignM, matchSymbol)
		} else {
			r.AlignM = append(r.AlignM, blankSymbol)
		}
	}
	c.qi++
	c.tj++
}

// diff aligns q[q0:q0+n] against t[t0:t0+m] globally and emits the
// alignment columns in order. tb and te are the costs of opening a
// vertical gap across the top and bottom borders: the usual gap-open
// score, or 0 when the border splits a gap that is already open.
func (c *mmCtx) diff(q0, n, t0, m, tb, te int) {
	g := c.a.cfg.Gap.Open
	h := c.a.cfg.Gap.Extend
	scoring := c.a.cfg.Scoring

	switch {
	case m == 0:
		if n > 0 {
			c.del(n)
		}
		return
	case n == 0:
		c.ins(m)
		return
	case n == 1:
		// the single row is either one substitution somewhere in t,
		// or deleted entirely alongside the insertion of all of t
		if te > tb {
			tb = te
		}
		best := tb + h + c.gapCost(m)
		bestj := 0
		sr := scoring.Row(c.q[q0])
		for j := 1; j <= m; j++ {
			s := c.gapCost(j-1) + int(sr[c.t[t0+j-1]]) + c.gapCost(m-j)
			if s > best {
				best = s
				bestj = j
			}
		}
		if bestj == 0 {
			c.del(1)
			c.ins(m)
		} else {
			if bestj > 1 {
				c.ins(bestj - 1)
			}
			c.rep()
			if bestj < m {
				c.ins(m - bestj)
			}
		}
		return
	}

	mid := n / 2
	cc, dd, rr, ss := c.cc, c.dd, c.rr, c.ss

	// forward pass over rows 1..mid
	cc[t0] = 0
	tt := g
	for j := 1; j <= m; j++ {
		tt += h
		cc[t0+j] = tt
		dd[t0+j] = tt + g
	}
	tt = tb
	var s, x, e, d int
	for i := 1; i <= mid; i++ {
		s = cc[t0]
		tt += h
		x = tt
		cc[t0] = x
		e = negInf
		sr := scoring.Row(c.q[q0+i-1])
		for j := 1; j <= m; j++ {
			e = max2(e+h, x+g+h)
			d = max2(dd[t0+j]+h, cc[t0+j]+g+h)
			x = s + int(sr[c.t[t0+j-1]])
			if e > x {
				x = e
			}
			if d > x {
				x = d
			}
			s = cc[t0+j]
			cc[t0+j] = x
			dd[t0+j] = d
		}
	}
	dd[t0] = cc[t0]

	// reverse pass over rows n..mid+1
	rr[t0+m] = 0
	tt = g
	for j := m - 1; j >= 0; j-- {
		tt += h
		rr[t0+j] = tt
		ss[t0+j] = tt + g
	}
	tt = te
	for i := n - 1; i >= mid; i-- {
		s = rr[t0+m]
		tt += h
		x = tt
		rr[t0+m] = x
		e = negInf
		sr := scoring.Row(c.q[q0+i])
		for j := m - 1; j >= 0; j-- {
			e = max2(e+h, x+g+h)
			d = max2(ss[t0+j]+h, rr[t0+j]+g+h)
			x = s + int(sr[c.t[t0+j]])
			if e > x {
				x = e
			}
			if d > x {
				x = d
			}
			s = rr[t0+j]
			rr[t0+j] = x
			ss[t0+j] = d
		}
	}
	ss[t0+m] = rr[t0+m]

	// split column: through a cell (type 1) or through a vertical gap
	// spanning the mid border (type 2, the doubly charged open repaid)
	midc := negInf
	midj := 0
	gapType := 1
	for j := 0; j <= m; j++ {
		if v := cc[t0+j] + rr[t0+j]; v > midc {
			midc = v
			midj = j
			gapType = 1
		}
	}
	for j := 0; j <= m; j++ {
		if v := dd[t0+j] + ss[t0+j] - g; v > midc {
			midc = v
			midj = j
			gapType = 2
		}
	}

	if gapType == 1 {
		c.diff(q0, mid, t0, midj, tb, g)
		c.diff(q0+mid, n-mid, t0+midj, m-midj, g, te)
	} else {
		c.diff(q0, mid-1, t0, midj, tb, 0)
		c.del(2)
		c.diff(q0+mid+1, n-mid-1, t0+midj, m-midj, 0, te)
	}
}
