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
	"math/rand"
	"testing"
)

func testScheme(match, mismatch int) *ScoringScheme {
	s, _ := MatchMismatch(256, match, mismatch)
	return s
}

func mustAligner(t *testing.T, elems ...Element) *Aligner {
	t.Helper()
	cfg, err := Config{}.With(elems...)
	if err != nil {
		t.Fatal(err)
	}
	a, err := NewAligner(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

var dnaLetters = []byte("ACGT")

func randSeq(r *rand.Rand, n int) []byte {
	s := make([]byte, n)
	for i := range s {
		s[i] = dnaLetters[r.Intn(4)]
	}
	return s
}

// alignmentScore recomputes the score of the gapped alignment strings,
// charging gap runs with the affine costs.
func alignmentScore(s *ScoringScheme, g GapScheme, r *Result) int {
	score := 0
	var inQGap, inTGap bool
	for i := range r.AlignQ {
		switch {
		case r.AlignQ[i] == gapSymbol:
			if !inQGap {
				score += g.Open
			}
			score += g.Extend
			inQGap, inTGap = true, false
		case r.AlignT[i] == gapSymbol:
			if !inTGap {
				score += g.Open
			}
			score += g.Extend
			inQGap, inTGap = false, true
		default:
			score += s.Score(r.AlignQ[i], r.AlignT[i])
			inQGap, inTGap = false, false
		}
	}
	return score
}

func TestGlobalIdentical(t *testing.T) {
	a := mustAligner(t,
		WithScoring(testScheme(1, -1)),
		WithGap(LinearGap(-1)),
		WithMode(Global),
	)
	r, err := a.Align([]byte("ACGT"), []byte("ACGT"))
	if err != nil {
		t.Fatal(err)
	}
	defer RecycleResult(r)

	if r.Score != 4 {
		t.Errorf("score: %d, expected 4", r.Score)
	}
	if r.QEnd != 4 || r.TEnd != 4 {
		t.Errorf("ends: (%d, %d), expected (4, 4)", r.QEnd, r.TEnd)
	}
}

func TestGlobalEmptySequences(t *testing.T) {
	a := mustAligner(t,
		WithScoring(testScheme(1, -1)),
		WithGap(LinearGap(-2)),
		WithMode(Global),
		WithOutput(OutputDefault|OutputAlignment),
	)

	r, err := a.Align([]byte{}, []byte("ACGT"))
	if err != nil {
		t.Fatal(err)
	}
	if r.Score != -8 {
		t.Errorf("score: %d, expected -8", r.Score)
	}
	if !bytes.Equal(r.AlignQ, []byte("----")) || !bytes.Equal(r.AlignT, []byte("ACGT")) {
		t.Errorf("alignment: %s / %s", r.AlignQ, r.AlignT)
	}
	RecycleResult(r)

	r, err = a.Align([]byte("ACGT"), []byte{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Score != -8 {
		t.Errorf("score: %d, expected -8", r.Score)
	}
	RecycleResult(r)

	r, err = a.Align([]byte{}, []byte{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Score != 0 || r.Len != 0 {
		t.Errorf("empty vs empty: score %d, len %d", r.Score, r.Len)
	}
	RecycleResult(r)
}

func TestGlobalWithGap(t *testing.T) {
	a := mustAligner(t,
		WithScoring(testScheme(2, -3)),
		WithGap(AffineGap(-5, -2)),
		WithMode(Global),
		WithOutput(OutputDefault|OutputAlignment),
	)
	r, err := a.Align([]byte("ACGT"), []byte("AGT"))
	if err != nil {
		t.Fatal(err)
	}
	defer RecycleResult(r)

	// three matches plus one single-symbol gap
	if r.Score != 2*3-5-2 {
		t.Errorf("score: %d, expected %d", r.Score, 2*3-5-2)
	}
	if string(r.CIGAR(true)) != "1=1D2=" {
		t.Errorf("cigar: %s, expected 1=1D2=", r.CIGAR(true))
	}
	if string(r.CIGAR(false)) != "1M1D2M" {
		t.Errorf("cigar: %s, expected 1M1D2M", r.CIGAR(false))
	}
	if r.Gaps != 1 || r.Matches != 3 || r.Len != 4 {
		t.Errorf("gaps %d, matches %d, len %d", r.Gaps, r.Matches, r.Len)
	}
	if got := alignmentScore(a.Config().Scoring, a.Config().Gap, r); got != r.Score {
		t.Errorf("alignment score %d != reported %d", got, r.Score)
	}
}

func TestLocalSubstring(t *testing.T) {
	a := mustAligner(t,
		WithScoring(testScheme(2, -3)),
		WithGap(AffineGap(-5, -2)),
		WithMode(Local),
		WithOutput(OutputDefault|OutputAlignment),
	)
	q := []byte("GGGGGACGTCGGGGG")
	tt := []byte("TTACGTCTT")
	r, err := a.Align(q, tt)
	if err != nil {
		t.Fatal(err)
	}
	defer RecycleResult(r)

	if r.Score != 10 {
		t.Errorf("score: %d, expected 10", r.Score)
	}
	if r.QBegin != 5 || r.QEnd != 10 {
		t.Errorf("q region: [%d, %d), expected [5, 10)", r.QBegin, r.QEnd)
	}
	if r.TBegin != 2 || r.TEnd != 7 {
		t.Errorf("t region: [%d, %d), expected [2, 7)", r.TBegin, r.TEnd)
	}
	if !bytes.Equal(r.AlignQ, []byte("ACGTC")) || !bytes.Equal(r.AlignT, []byte("ACGTC")) {
		t.Errorf("alignment: %s / %s", r.AlignQ, r.AlignT)
	}
}

func TestSemiGlobalOverhangs(t *testing.T) {
	a := mustAligner(t,
		WithScoring(testScheme(2, -3)),
		WithGap(AffineGap(-5, -2)),
		WithEndGaps(EndGaps{Seq1Leading: true, Seq1Trailing: true}),
		WithOutput(OutputDefault|OutputAlignment),
	)
	if a.Config().Mode != SemiGlobal {
		t.Fatalf("end gaps should imply semi-global mode")
	}

	r, err := a.Align([]byte("ACGT"), []byte("TTACGTTT"))
	if err != nil {
		t.Fatal(err)
	}
	defer RecycleResult(r)

	if r.Score != 8 {
		t.Errorf("score: %d, expected 8", r.Score)
	}
	if r.QBegin != 0 || r.QEnd != 4 || r.TBegin != 2 || r.TEnd != 6 {
		t.Errorf("regions: q [%d, %d), t [%d, %d)", r.QBegin, r.QEnd, r.TBegin, r.TEnd)
	}
}

func TestTieBreakPrefersDiagonal(t *testing.T) {
	// with all scores zero every path ties; the diagonal must win
	a := mustAligner(t,
		WithScoring(testScheme(0, 0)),
		WithGap(GapScheme{Open: 0, Extend: 0}),
		WithMode(Global),
		WithOutput(OutputDefault|OutputAlignment),
	)
	r, err := a.Align([]byte("AAAA"), []byte("AAAA"))
	if err != nil {
		t.Fatal(err)
	}
	defer RecycleResult(r)

	if r.Gaps != 0 || r.Len != 4 {
		t.Errorf("expected a pure diagonal alignment, got gaps %d, len %d (%s / %s)",
			r.Gaps, r.Len, r.AlignQ, r.AlignT)
	}
}

func TestAffineOpenZeroEqualsLinear(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	affine := mustAligner(t,
		WithScoring(testScheme(1, -1)),
		WithGap(AffineGap(0, -2)),
		WithMode(Global),
	)
	linear := mustAligner(t,
		WithScoring(testScheme(1, -1)),
		WithGap(LinearGap(-2)),
		WithMode(Global),
	)

	for i := 0; i < 20; i++ {
		q := randSeq(rng, 5+rng.Intn(60))
		tt := randSeq(rng, 5+rng.Intn(60))

		r1, err := affine.Align(q, tt)
		if err != nil {
			t.Fatal(err)
		}
		r2, err := linear.Align(q, tt)
		if err != nil {
			t.Fatal(err)
		}
		if r1.Score != r2.Score {
			t.Errorf("affine(open=0) %d != linear %d for %s / %s", r1.Score, r2.Score, q, tt)
		}
		RecycleResult(r1)
		RecycleResult(r2)
	}
}

func TestLocalAtLeastGlobal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	global := mustAligner(t,
		WithScoring(testScheme(2, -3)),
		WithGap(AffineGap(-5, -2)),
		WithMode(Global),
	)
	local := mustAligner(t,
		WithScoring(testScheme(2, -3)),
		WithGap(AffineGap(-5, -2)),
		WithMode(Local),
	)

	for i := 0; i < 20; i++ {
		q := randSeq(rng, 10+rng.Intn(80))
		tt := randSeq(rng, 10+rng.Intn(80))

		rg, err := global.Align(q, tt)
		if err != nil {
			t.Fatal(err)
		}
		rl, err := local.Align(q, tt)
		if err != nil {
			t.Fatal(err)
		}
		if rl.Score < rg.Score {
			t.Errorf("local %d < global %d for %s / %s", rl.Score, rg.Score, q, tt)
		}
		if rl.Score < 0 {
			t.Errorf("local score %d < 0", rl.Score)
		}
		RecycleResult(rg)
		RecycleResult(rl)
	}
}

func TestSwappedSequencesSymmetric(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a := mustAligner(t,
		WithScoring(testScheme(2, -3)),
		WithGap(AffineGap(-5, -2)),
		WithMode(Global),
	)
	for i := 0; i < 10; i++ {
		q := randSeq(rng, 10+rng.Intn(50))
		tt := randSeq(rng, 10+rng.Intn(50))

		r1, err := a.Align(q, tt)
		if err != nil {
			t.Fatal(err)
		}
		r2, err := a.Align(tt, q)
		if err != nil {
			t.Fatal(err)
		}
		if r1.Score != r2.Score {
			t.Errorf("score not symmetric: %d vs %d", r1.Score, r2.Score)
		}
		RecycleResult(r1)
		RecycleResult(r2)
	}
}

// the three scored kernels must agree on the optimal score,
// and trace kernels must produce alignments worth that score.
func TestKernelScoreAgreement(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	modes := []struct {
		name  string
		elems []Element
	}{
		{"global", []Element{WithMode(Global)}},
		{"local", []Element{WithMode(Local)}},
		{"overlap", []Element{WithEndGaps(FreeEndsAll)}},
	}

	for _, mode := range modes {
		base := []Element{
			WithScoring(testScheme(2, -3)),
			WithGap(AffineGap(-5, -2)),
		}
		scoreOnly := mustAligner(t, append(append(base[:len(base):len(base)], mode.elems...),
			WithOutput(OutputScore|OutputEnd))...)
		full := mustAligner(t, append(append(base[:len(base):len(base)], mode.elems...),
			WithOutput(OutputDefault|OutputAlignment))...)
		lin := mustAligner(t, append(append(base[:len(base):len(base)], mode.elems...),
			WithOutput(OutputDefault|OutputAlignment),
			WithTrace(TraceLinearSpace))...)

		for i := 0; i < 20; i++ {
			q := randSeq(rng, 1+rng.Intn(100))
			tt := randSeq(rng, 1+rng.Intn(100))

			r0, err := scoreOnly.Align(q, tt)
			if err != nil {
				t.Fatal(err)
			}
			r1, err := full.Align(q, tt)
			if err != nil {
				t.Fatal(err)
			}
			r2, err := lin.Align(q, tt)
			if err != nil {
				t.Fatal(err)
			}

			if r1.Score != r0.Score || r2.Score != r0.Score {
				t.Errorf("%s: scores disagree: score-only %d, full %d, linear %d (%s / %s)",
					mode.name, r0.Score, r1.Score, r2.Score, q, tt)
			}
			if got := alignmentScore(full.Config().Scoring, full.Config().Gap, r1); got != r1.Score {
				t.Errorf("%s: full-matrix alignment worth %d, reported %d", mode.name, got, r1.Score)
			}
			if got := alignmentScore(lin.Config().Scoring, lin.Config().Gap, r2); got != r2.Score {
				t.Errorf("%s: linear-space alignment worth %d, reported %d", mode.name, got, r2.Score)
			}

			RecycleResult(r0)
			RecycleResult(r1)
			RecycleResult(r2)
		}
	}
}

// with a free trailing end the alignment may stop on the boundary row
// or column, including against an empty sequence, where the whole
// other sequence hangs over for free.
func TestFreeTrailingEmptySequence(t *testing.T) {
	base := []Element{
		WithScoring(testScheme(2, -3)),
		WithGap(AffineGap(-5, -2)),
	}

	// query overhang past an empty target costs nothing
	a := mustAligner(t, append(base[:len(base):len(base)],
		WithEndGaps(EndGaps{Seq2Trailing: true}))...)
	r, err := a.Align([]byte("AC"), []byte{})
	if err != nil {
		t.Fatal(err)
	}
	if r.Score != 0 {
		t.Errorf("score: %d, expected 0", r.Score)
	}
	if r.QEnd != 0 || r.TEnd != 0 {
		t.Errorf("ends: (%d, %d), expected (0, 0)", r.QEnd, r.TEnd)
	}
	RecycleResult(r)

	// mirrored: target overhang past an empty query
	a = mustAligner(t, append(base[:len(base):len(base)],
		WithEndGaps(EndGaps{Seq1Trailing: true}))...)
	r, err = a.Align([]byte{}, []byte("AC"))
	if err != nil {
		t.Fatal(err)
	}
	if r.Score != 0 {
		t.Errorf("score: %d, expected 0", r.Score)
	}
	if r.QEnd != 0 || r.TEnd != 0 {
		t.Errorf("ends: (%d, %d), expected (0, 0)", r.QEnd, r.TEnd)
	}
	RecycleResult(r)

	// trace kernels see the same end cells
	for _, trace := range []Element{
		WithTrace(TraceFullMatrix),
		WithTrace(TraceLinearSpace),
	} {
		a = mustAligner(t, append(base[:len(base):len(base)],
			WithEndGaps(EndGaps{Seq2Trailing: true}),
			WithOutput(OutputDefault|OutputAlignment),
			trace)...)
		r, err = a.Align([]byte("AC"), []byte{})
		if err != nil {
			t.Fatal(err)
		}
		if r.Score != 0 || r.QEnd != 0 || r.TEnd != 0 {
			t.Errorf("trace: score %d, ends (%d, %d), expected 0 at (0, 0)", r.Score, r.QEnd, r.TEnd)
		}
		RecycleResult(r)
	}
}

// every combination of free end flags must give the same optimal score
// from the score-only, full-matrix and linear-space kernels, with
// alignments worth what they report.
func TestFreeEndVariantsAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(27))

	variants := []struct {
		name string
		ends EndGaps
	}{
		{"q5", EndGaps{Seq1Leading: true}},
		{"q3", EndGaps{Seq1Trailing: true}},
		{"t5", EndGaps{Seq2Leading: true}},
		{"t3", EndGaps{Seq2Trailing: true}},
		{"q5q3", EndGaps{Seq1Leading: true, Seq1Trailing: true}},
		{"t5t3", EndGaps{Seq2Leading: true, Seq2Trailing: true}},
		{"q5t3", EndGaps{Seq1Leading: true, Seq2Trailing: true}},
		{"t5q3", EndGaps{Seq2Leading: true, Seq1Trailing: true}},
		{"all", FreeEndsAll},
	}

	for _, v := range variants {
		base := []Element{
			WithScoring(testScheme(2, -3)),
			WithGap(AffineGap(-5, -2)),
			WithEndGaps(v.ends),
		}
		scoreOnly := mustAligner(t, append(base[:len(base):len(base)],
			WithOutput(OutputScore|OutputEnd))...)
		full := mustAligner(t, append(base[:len(base):len(base)],
			WithOutput(OutputDefault|OutputAlignment))...)
		lin := mustAligner(t, append(base[:len(base):len(base)],
			WithOutput(OutputDefault|OutputAlignment),
			WithTrace(TraceLinearSpace))...)

		for i := 0; i < 15; i++ {
			q := randSeq(rng, rng.Intn(80))
			tt := randSeq(rng, rng.Intn(80))

			r0, err := scoreOnly.Align(q, tt)
			if err != nil {
				t.Fatal(err)
			}
			r1, err := full.Align(q, tt)
			if err != nil {
				t.Fatal(err)
			}
			r2, err := lin.Align(q, tt)
			if err != nil {
				t.Fatal(err)
			}

			if r1.Score != r0.Score || r2.Score != r0.Score {
				t.Errorf("%s: scores disagree: score-only %d, full %d, linear %d (%q / %q)",
					v.name, r0.Score, r1.Score, r2.Score, q, tt)
			}
			if r1.QEnd != r0.QEnd || r1.TEnd != r0.TEnd {
				t.Errorf("%s: ends disagree: score-only (%d, %d), full (%d, %d)",
					v.name, r0.QEnd, r0.TEnd, r1.QEnd, r1.TEnd)
			}
			if got := alignmentScore(full.Config().Scoring, full.Config().Gap, r1); got != r1.Score {
				t.Errorf("%s: full-matrix alignment worth %d, reported %d", v.name, got, r1.Score)
			}
			if got := alignmentScore(lin.Config().Scoring, lin.Config().Gap, r2); got != r2.Score {
				t.Errorf("%s: linear-space alignment worth %d, reported %d", v.name, got, r2.Score)
			}

			RecycleResult(r0)
			RecycleResult(r1)
			RecycleResult(r2)
		}
	}
}
