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

package batch

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shenwei356/seqalign/seqalign/align"
)

var dnaLetters = []byte("ACGT")

func randSeq(r *rand.Rand, n int) []byte {
	s := make([]byte, n)
	for i := range s {
		s[i] = dnaLetters[r.Intn(4)]
	}
	return s
}

func testConfig(t *testing.T, elems ...align.Element) align.Config {
	t.Helper()
	scheme, err := align.MatchMismatch(256, 2, -3)
	if err != nil {
		t.Fatal(err)
	}
	base := []align.Element{
		align.WithScoring(scheme),
		align.WithGap(align.AffineGap(-5, -2)),
		align.WithOutput(align.OutputScore | align.OutputEnd),
		align.WithLanes(8),
	}
	cfg, err := align.Config{}.With(append(base, elems...)...)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

// the lane kernel must reproduce the scalar path bit for bit:
// same scores, same end cells, same tie-breaking.
func TestBatchMatchesScalar(t *testing.T) {
	rng := rand.New(rand.NewSource(21))

	modes := []struct {
		name string
		elem align.Element
	}{
		{"global", align.WithMode(align.Global)},
		{"local", align.WithMode(align.Local)},
		{"overlap", align.WithEndGaps(align.FreeEndsAll)},
		{"q5-free", align.WithEndGaps(align.EndGaps{Seq1Leading: true})},
		{"t3-free", align.WithEndGaps(align.EndGaps{Seq2Trailing: true})},
		{"q3t5-free", align.WithEndGaps(align.EndGaps{Seq1Trailing: true, Seq2Leading: true})},
	}

	for _, mode := range modes {
		cfg := testConfig(t, mode.elem)
		x, err := NewExecutor(&cfg)
		if err != nil {
			t.Fatal(err)
		}
		if x.Width() != 8 {
			t.Fatalf("%s: width %d, expected 8", mode.name, x.Width())
		}
		scalar, err := align.NewAligner(&cfg)
		if err != nil {
			t.Fatal(err)
		}

		pairs := make([]Pair, 30)
		for i := range pairs {
			pairs[i] = Pair{
				ID:     i * 10,
				Query:  randSeq(rng, rng.Intn(200)),
				Target: randSeq(rng, rng.Intn(200)),
			}
		}

		results, errs := x.Run(pairs)
		if len(results) != len(pairs) {
			t.Fatalf("%s: %d results for %d pairs", mode.name, len(results), len(pairs))
		}

		for i, r := range results {
			if errs[i] != nil {
				t.Fatalf("%s: pair %d failed: %v", mode.name, i, errs[i])
			}
			if r == nil {
				t.Fatalf("%s: nil result for pair %d", mode.name, i)
			}
			if r.ID != pairs[i].ID {
				t.Errorf("%s: result %d carries ID %d, expected %d", mode.name, i, r.ID, pairs[i].ID)
			}
			want, err := scalar.Align(pairs[i].Query, pairs[i].Target)
			if err != nil {
				t.Fatal(err)
			}
			if r.Score != want.Score {
				t.Errorf("%s: pair %d: batch score %d, scalar %d", mode.name, i, r.Score, want.Score)
			}
			if r.QEnd != want.QEnd || r.TEnd != want.TEnd {
				t.Errorf("%s: pair %d: batch ends (%d, %d), scalar (%d, %d)",
					mode.name, i, r.QEnd, r.TEnd, want.QEnd, want.TEnd)
			}
			align.RecycleResult(want)
			align.RecycleResult(r)
		}
	}
}

// lanes of wildly different lengths: short queries freeze early while
// long ones keep sweeping.
func TestBatchMixedLengths(t *testing.T) {
	rng := rand.New(rand.NewSource(8))

	cfg := testConfig(t, align.WithMode(align.Global))
	x, err := NewExecutor(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	scalar, err := align.NewAligner(&cfg)
	if err != nil {
		t.Fatal(err)
	}

	pairs := make([]Pair, 20)
	for i := range pairs {
		n := 10
		if i%2 == 1 {
			n = 1000
		}
		pairs[i] = Pair{ID: i, Query: randSeq(rng, n), Target: randSeq(rng, n+rng.Intn(20)-10)}
	}

	results, _ := x.Run(pairs)
	for i, r := range results {
		want, err := scalar.Align(pairs[i].Query, pairs[i].Target)
		if err != nil {
			t.Fatal(err)
		}
		if r.Score != want.Score || r.QEnd != want.QEnd || r.TEnd != want.TEnd {
			t.Errorf("pair %d: batch (%d, %d, %d), scalar (%d, %d, %d)",
				i, r.Score, r.QEnd, r.TEnd, want.Score, want.QEnd, want.TEnd)
		}
		align.RecycleResult(want)
		align.RecycleResult(r)
	}
}

func TestBatchEmptySequences(t *testing.T) {
	cfg := testConfig(t, align.WithMode(align.Global))
	x, err := NewExecutor(&cfg)
	if err != nil {
		t.Fatal(err)
	}

	pairs := []Pair{
		{ID: 0, Query: []byte(""), Target: []byte("ACGT")},
		{ID: 1, Query: []byte("ACGT"), Target: []byte("")},
		{ID: 2, Query: []byte(""), Target: []byte("")},
		{ID: 3, Query: []byte("ACGT"), Target: []byte("ACGT")},
	}
	results, _ := x.Run(pairs)

	wants := []int{-5 - 2*4, -5 - 2*4, 0, 8}
	for i, r := range results {
		if r.Score != wants[i] {
			t.Errorf("pair %d: score %d, expected %d", i, r.Score, wants[i])
		}
		align.RecycleResult(r)
	}
}

func TestBatchScalarFallback(t *testing.T) {
	rng := rand.New(rand.NewSource(33))

	scheme, err := align.MatchMismatch(256, 2, -3)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := align.Config{}.With(
		align.WithScoring(scheme),
		align.WithGap(align.AffineGap(-5, -2)),
		align.WithMode(align.Global),
		align.WithOutput(align.OutputDefault|align.OutputAlignment),
		align.WithLanes(8),
	)
	if err != nil {
		t.Fatal(err)
	}
	x, err := NewExecutor(&cfg)
	if err != nil {
		t.Fatal(err)
	}

	pairs := make([]Pair, 5)
	for i := range pairs {
		pairs[i] = Pair{ID: i, Query: randSeq(rng, 50), Target: randSeq(rng, 50)}
	}
	results, _ := x.Run(pairs)
	for i, r := range results {
		if len(r.AlignQ) == 0 {
			t.Errorf("pair %d: expected alignment strings from the fallback path", i)
		}
		align.RecycleResult(r)
	}
}

func TestBatchEditDistanceCutoff(t *testing.T) {
	cfg, err := align.Config{}.With(
		align.WithEditDistance(),
		align.WithMaxErrors(1),
		align.WithOutput(align.OutputScore|align.OutputEnd),
		align.WithLanes(8),
	)
	if err != nil {
		t.Fatal(err)
	}
	x, err := NewExecutor(&cfg)
	if err != nil {
		t.Fatal(err)
	}

	pairs := []Pair{
		{ID: 0, Query: []byte("ACGT"), Target: []byte("ACGT")},
		{ID: 1, Query: []byte("AAAA"), Target: []byte("TTTT")},
		{ID: 2, Query: []byte("ACGT"), Target: []byte("ACGA")},
	}
	results, errs := x.Run(pairs)

	if errs[0] != nil || results[0] == nil || results[0].Score != 0 {
		t.Error("pair 0: expected distance 0")
	}
	if !errors.Is(errs[1], align.ErrMaxErrorsExceeded) {
		t.Errorf("pair 1: expected ErrMaxErrorsExceeded, got %v", errs[1])
	}
	if results[1] != nil {
		t.Error("pair 1: expected a nil result for the exceeded cutoff")
	}
	if errs[2] != nil || results[2] == nil || results[2].Score != -1 {
		t.Error("pair 2: expected distance 1")
	}
	align.RecycleResult(results[0])
	align.RecycleResult(results[2])
}

// a pair whose band excludes its sink cell fails alone; its siblings
// in the same batch still come back with results.
func TestBatchPerPairErrors(t *testing.T) {
	scheme, err := align.MatchMismatch(256, 2, -3)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := align.Config{}.With(
		align.WithScoring(scheme),
		align.WithGap(align.AffineGap(-5, -2)),
		align.WithMode(align.Global),
		align.WithBand(-1, 1),
		align.WithOutput(align.OutputScore|align.OutputEnd),
		align.WithLanes(8),
	)
	if err != nil {
		t.Fatal(err)
	}
	x, err := NewExecutor(&cfg)
	if err != nil {
		t.Fatal(err)
	}

	pairs := []Pair{
		{ID: 0, Query: []byte("ACGTACGT"), Target: []byte("ACGTACGT")},
		{ID: 1, Query: []byte("ACGT"), Target: []byte("ACGTACGTACGTAC")}, // sink on diagonal 10
		{ID: 2, Query: []byte("ACGTAC"), Target: []byte("ACGTACG")},
	}
	results, errs := x.Run(pairs)

	if errs[0] != nil || results[0] == nil {
		t.Errorf("pair 0: expected a result, got error %v", errs[0])
	}
	if errs[1] == nil {
		t.Error("pair 1: expected the excluded-sink error")
	}
	if results[1] != nil {
		t.Error("pair 1: expected a nil result alongside its error")
	}
	if errs[2] != nil || results[2] == nil {
		t.Errorf("pair 2: expected a result, got error %v", errs[2])
	}
	align.RecycleResult(results[0])
	align.RecycleResult(results[2])
}

// global begins are fixed at the origin, so asking for them must not
// push a global run onto the scalar fallback.
func TestBatchGlobalBeginsUseLanes(t *testing.T) {
	rng := rand.New(rand.NewSource(52))

	scheme, err := align.MatchMismatch(256, 2, -3)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := align.Config{}.With(
		align.WithScoring(scheme),
		align.WithGap(align.AffineGap(-5, -2)),
		align.WithMode(align.Global),
		align.WithOutput(align.OutputDefault),
		align.WithLanes(8),
	)
	if err != nil {
		t.Fatal(err)
	}
	x, err := NewExecutor(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	if x.scalar != nil {
		t.Fatal("global run with begin positions fell back to the scalar path")
	}
	scalar, err := align.NewAligner(&cfg)
	if err != nil {
		t.Fatal(err)
	}

	pairs := make([]Pair, 12)
	for i := range pairs {
		pairs[i] = Pair{ID: i, Query: randSeq(rng, 40+rng.Intn(40)), Target: randSeq(rng, 40+rng.Intn(40))}
	}
	results, _ := x.Run(pairs)
	for i, r := range results {
		if r.QBegin != 0 || r.TBegin != 0 {
			t.Errorf("pair %d: begins (%d, %d), expected the origin", i, r.QBegin, r.TBegin)
		}
		want, err := scalar.Align(pairs[i].Query, pairs[i].Target)
		if err != nil {
			t.Fatal(err)
		}
		if r.Score != want.Score || r.QBegin != want.QBegin || r.TBegin != want.TBegin {
			t.Errorf("pair %d: batch (%d, %d, %d), scalar (%d, %d, %d)",
				i, r.Score, r.QBegin, r.TBegin, want.Score, want.QBegin, want.TBegin)
		}
		align.RecycleResult(want)
		align.RecycleResult(r)
	}
}
