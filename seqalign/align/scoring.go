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

// ScoringScheme is a full substitution matrix over a rank-encoded alphabet.
// Sequences handed to the aligners use small integers (ranks) as symbols,
// and Score(a, b) looks up the score of substituting rank a with rank b.
// A ScoringScheme is immutable once handed to an aligner and is safe to
// share across goroutines.
type ScoringScheme struct {
	n      int     // alphabet size
	scores []int32 // n*n, row-major
}

// NewScoringScheme creates an all-zero substitution matrix
// for an alphabet of the given size.
func NewScoringScheme(alphabetSize int) (*ScoringScheme, error) {
	if alphabetSize < 1 || alphabetSize > 256 {
		return nil, fmt.Errorf("align: invalid alphabet size: %d", alphabetSize)
	}
	return &ScoringScheme{
		n:      alphabetSize,
		scores: make([]int32, alphabetSize*alphabetSize),
	}, nil
}

// MatchMismatch creates a simple scheme scoring all identical
// symbol pairs with match and all others with mismatch.
func MatchMismatch(alphabetSize int, match, mismatch int) (*ScoringScheme, error) {
	s, err := NewScoringScheme(alphabetSize)
	if err != nil {
		return nil, err
	}
	for a := 0; a < alphabetSize; a++ {
		for b := 0; b < alphabetSize; b++ {
			if a == b {
				s.scores[a*alphabetSize+b] = int32(match)
			} else {
				s.scores[a*alphabetSize+b] = int32(mismatch)
			}
		}
	}
	return s, nil
}

// DNA returns the default scheme for the 4-letter DNA alphabet (ACGT),
// +2 for a match and -3 for a mismatch, close to the megablast defaults.
func DNA() *ScoringScheme {
	s, _ := MatchMismatch(4, 2, -3)
	return s
}

// Unit returns a +1/-1 scheme, handy in tests and for edit-like scoring.
func Unit(alphabetSize int) *ScoringScheme {
	s, _ := MatchMismatch(alphabetSize, 1, -1)
	return s
}

// editScoring is the {0,-1} scheme over all byte values, used when an
// edit-distance run also needs a trace.
func editScoring() *ScoringScheme {
	s, _ := MatchMismatch(256, 0, -1)
	return s
}

// AlphabetSize returns the alphabet size n; valid ranks are [0, n).
func (s *ScoringScheme) AlphabetSize() int { return s.n }

// Set sets the score of substituting rank a with rank b.
// It panics for out-of-range ranks, like a slice access would.
func (s *ScoringScheme) Set(a, b uint8, score int) {
	s.scores[int(a)*s.n+int(b)] = int32(score)
}

// SetSymmetric sets both (a,b) and (b,a).
func (s *ScoringScheme) SetSymmetric(a, b uint8, score int) {
	s.scores[int(a)*s.n+int(b)] = int32(score)
	s.scores[int(b)*s.n+int(a)] = int32(score)
}

// Score returns the score of substituting rank a with rank b.
func (s *ScoringScheme) Score(a, b uint8) int {
	return int(s.scores[int(a)*s.n+int(b)])
}

// Row returns the scores of substituting rank a with any rank, for
// tight inner loops. The slice aliases the matrix; do not modify it.
func (s *ScoringScheme) Row(a uint8) []int32 {
	return s.scores[int(a)*s.n : (int(a)+1)*s.n]
}

// Symmetric reports whether score(a,b) == score(b,a) for all pairs.
func (s *ScoringScheme) Symmetric() bool {
	for a := 0; a < s.n; a++ {
		for b := a + 1; b < s.n; b++ {
			if s.scores[a*s.n+b] != s.scores[b*s.n+a] {
				return false
			}
		}
	}
	return true
}

// GapScheme holds gap costs. A gap of length L costs Open + L*Extend.
// Linear gap costs are expressed with Open == 0, so a single per-symbol
// cost; the affine recurrence with Open == 0 degenerates to exactly the
// linear one.
type GapScheme struct {
	Open   int // charged once when a gap is opened, 0 for linear costs
	Extend int // charged for every gap symbol
}

// LinearGap returns a linear gap scheme where every gap symbol costs score.
func LinearGap(score int) GapScheme {
	return GapScheme{Open: 0, Extend: score}
}

// AffineGap returns an affine gap scheme.
func AffineGap(open, extend int) GapScheme {
	return GapScheme{Open: open, Extend: extend}
}

// Cost returns the total cost of a gap of the given length.
func (g GapScheme) Cost(length int) int {
	if length == 0 {
		return 0
	}
	return g.Open + length*g.Extend
}
