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
	"errors"
	"fmt"
	"runtime"
)

// Mode selects the alignment variant.
type Mode uint8

const (
	// Global aligns both sequences end to end.
	Global Mode = iota
	// Local finds the best-scoring pair of subsequences (Smith-Waterman).
	Local
	// SemiGlobal is global alignment with configurable cost-free end gaps,
	// see EndGaps.
	SemiGlobal
)

func (m Mode) String() string {
	switch m {
	case Global:
		return "global"
	case Local:
		return "local"
	case SemiGlobal:
		return "semiglobal"
	}
	return "unknown"
}

// EndGaps marks which sequence ends may carry cost-free gaps in
// semi-global mode. A gap "in" a sequence is a gap symbol inserted into
// that sequence, i.e. unaligned overhang of the other one.
type EndGaps struct {
	Seq1Leading  bool // free gaps at the beginning of sequence 1
	Seq1Trailing bool // free gaps at the end of sequence 1
	Seq2Leading  bool // free gaps at the beginning of sequence 2
	Seq2Trailing bool // free gaps at the end of sequence 2
}

// FreeEndsAll permits cost-free overhangs on all four ends (overlap alignment).
var FreeEndsAll = EndGaps{true, true, true, true}

// Band restricts the computed cells to diagonals [Lower, Upper],
// where cell (i,j) lies on diagonal j-i. Lower <= 0 <= Upper is required
// for global alignment so that both matrix corners stay inside the band.
type Band struct {
	Lower int
	Upper int
}

// TraceStrategy selects how a full alignment (trace-back) is obtained.
type TraceStrategy uint8

const (
	// TraceFullMatrix keeps the complete direction matrix in memory,
	// O(n*m) space.
	TraceFullMatrix TraceStrategy = iota
	// TraceLinearSpace recomputes half matrices recursively
	// (Hirschberg/Myers-Miller), O(min(n,m)) space.
	TraceLinearSpace
)

// OutputFields selects which fields of a Result are filled in.
type OutputFields uint8

const (
	OutputScore     OutputFields = 1 << iota // always cheap
	OutputEnd                                // end positions
	OutputBegin                              // begin positions
	OutputAlignment                          // gapped alignment strings + CIGAR
)

// OutputDefault is score, begin and end positions.
const OutputDefault = OutputScore | OutputBegin | OutputEnd

// OptionKind identifies one configuration element. At most one element
// per kind may be present in a Config.
type OptionKind uint8

const (
	OptScoring OptionKind = iota
	OptGap
	OptMode
	OptEndGaps
	OptBand
	OptMaxErrors
	OptEditDistance
	OptOutput
	OptTrace
	OptThreads
	OptLanes
	OptOnResult
	numOptionKinds
)

func (k OptionKind) String() string {
	switch k {
	case OptScoring:
		return "scoring scheme"
	case OptGap:
		return "gap scheme"
	case OptMode:
		return "alignment mode"
	case OptEndGaps:
		return "free end gaps"
	case OptBand:
		return "band"
	case OptMaxErrors:
		return "max errors"
	case OptEditDistance:
		return "edit distance"
	case OptOutput:
		return "output fields"
	case OptTrace:
		return "trace strategy"
	case OptThreads:
		return "threads"
	case OptLanes:
		return "lanes"
	case OptOnResult:
		return "on-result callback"
	}
	return "unknown"
}

// Configuration errors.
var (
	ErrNoScoring     = errors.New("align: no scoring scheme configured")
	ErrNoGap         = errors.New("align: no gap scheme configured")
	ErrInvalidBand   = errors.New("align: invalid band: lower > upper")
	ErrBandExcludes  = errors.New("align: band excludes the origin or the sink cell")
	ErrIncompatible  = errors.New("align: incompatible configuration elements")
	ErrMissing       = errors.New("align: missing required configuration element")
	ErrInvalidOption = errors.New("align: invalid configuration element")
)

// incompatibilities is the static compatibility table: element kinds that
// must not coexist with a given element value. Checked in With(), so a
// contradictory Config can never be built.
//
//	local mode       <-> free end gaps (local begin/end are free by definition)
//	edit distance    <-> scoring scheme, gap scheme (fixed unit costs)
//	max errors       requires edit distance (checked in Validate)
var incompatibilities = map[OptionKind][]OptionKind{
	OptEndGaps:      {OptEditDistance},
	OptEditDistance: {OptScoring, OptGap, OptEndGaps},
	OptScoring:      {OptEditDistance},
	OptGap:          {OptEditDistance},
}

// Element is one typed configuration element.
// Elements are created with the With* constructors below.
type Element struct {
	kind  OptionKind
	apply func(*Config) error
}

// Kind returns the element's kind.
func (e Element) Kind() OptionKind { return e.kind }

// WithScoring sets the substitution matrix.
func WithScoring(s *ScoringScheme) Element {
	return Element{OptScoring, func(c *Config) error {
		if s == nil {
			return fmt.Errorf("%w: nil scoring scheme", ErrInvalidOption)
		}
		c.Scoring = s
		return nil
	}}
}

// WithGap sets the gap scheme.
func WithGap(g GapScheme) Element {
	return Element{OptGap, func(c *Config) error {
		c.Gap = g
		return nil
	}}
}

// WithMode sets the alignment mode.
func WithMode(m Mode) Element {
	return Element{OptMode, func(c *Config) error {
		if m > SemiGlobal {
			return fmt.Errorf("%w: unknown mode %d", ErrInvalidOption, m)
		}
		c.Mode = m
		return nil
	}}
}

// WithEndGaps sets the free-end-gap flags and implies semi-global mode
// unless a mode was set explicitly.
func WithEndGaps(e EndGaps) Element {
	return Element{OptEndGaps, func(c *Config) error {
		c.EndGaps = e
		if !c.set[OptMode] {
			c.Mode = SemiGlobal
			c.set[OptMode] = true
		}
		return nil
	}}
}

// WithBand restricts computation to diagonals [lower, upper].
func WithBand(lower, upper int) Element {
	return Element{OptBand, func(c *Config) error {
		if lower > upper {
			return fmt.Errorf("%w: [%d, %d]", ErrInvalidBand, lower, upper)
		}
		c.Band = Band{Lower: lower, Upper: upper}
		return nil
	}}
}

// WithMaxErrors sets the error cutoff for edit-distance alignment;
// columns are abandoned early once the cutoff is out of reach.
func WithMaxErrors(n int) Element {
	return Element{OptMaxErrors, func(c *Config) error {
		if n < 0 {
			return fmt.Errorf("%w: negative max errors", ErrInvalidOption)
		}
		c.MaxErrors = n
		return nil
	}}
}

// WithEditDistance switches to the bit-vector edit-distance kernel
// (unit costs, score = -distance). It implies global mode unless a mode
// was set explicitly; edit distance supports no other mode.
func WithEditDistance() Element {
	return Element{OptEditDistance, func(c *Config) error {
		c.EditDistance = true
		if !c.set[OptMode] {
			c.Mode = Global
			c.set[OptMode] = true
		}
		return nil
	}}
}

// WithOutput selects the Result fields to fill in.
func WithOutput(f OutputFields) Element {
	return Element{OptOutput, func(c *Config) error {
		c.Output = f | OutputScore
		return nil
	}}
}

// WithTrace selects the trace-back strategy.
func WithTrace(t TraceStrategy) Element {
	return Element{OptTrace, func(c *Config) error {
		if t > TraceLinearSpace {
			return fmt.Errorf("%w: unknown trace strategy %d", ErrInvalidOption, t)
		}
		c.Trace = t
		return nil
	}}
}

// WithThreads sets the parallelism degree, 0 meaning all CPUs.
func WithThreads(n int) Element {
	return Element{OptThreads, func(c *Config) error {
		if n < 0 {
			return fmt.Errorf("%w: negative thread count", ErrInvalidOption)
		}
		if n == 0 {
			n = runtime.NumCPU()
		}
		c.Threads = n
		return nil
	}}
}

// WithLanes sets the batch lane width, 1 forcing the scalar path.
// Widths other than powers of two are rejected.
func WithLanes(n int) Element {
	return Element{OptLanes, func(c *Config) error {
		if n < 1 || n > 64 || n&(n-1) != 0 {
			return fmt.Errorf("%w: lane width %d, want a power of two in [1, 64]", ErrInvalidOption, n)
		}
		c.Lanes = n
		return nil
	}}
}

// WithOnResult registers a callback invoked once per completed result,
// on the worker that completed it.
func WithOnResult(f func(*Result)) Element {
	return Element{OptOnResult, func(c *Config) error {
		if f == nil {
			return fmt.Errorf("%w: nil callback", ErrInvalidOption)
		}
		c.OnResult = f
		return nil
	}}
}

// Config is an immutable alignment configuration, built once with With()
// and shared read-only by all workers and lanes for a whole run.
// The zero Config has nothing set; use With to populate it.
type Config struct {
	Scoring      *ScoringScheme
	Gap          GapScheme
	Mode         Mode
	EndGaps      EndGaps
	Band         Band
	MaxErrors    int
	EditDistance bool
	Output       OutputFields
	Trace        TraceStrategy
	Threads      int
	Lanes        int
	OnResult     func(*Result)

	set [numOptionKinds]bool
}

// Has reports whether an element of the given kind has been set.
func (c *Config) Has(k OptionKind) bool { return c.set[k] }

// With returns a copy of the configuration with the given elements
// applied. An element replaces any previously set element of the same
// kind. Incompatible combinations (see the compatibility table) are
// rejected here, before any alignment runs.
func (c Config) With(elems ...Element) (Config, error) {
	for _, e := range elems {
		if e.apply == nil {
			return c, fmt.Errorf("%w: empty element", ErrInvalidOption)
		}
		for _, other := range incompatibilities[e.kind] {
			if c.set[other] {
				return c, fmt.Errorf("%w: %s with %s", ErrIncompatible, e.kind, other)
			}
		}
		if e.kind == OptEndGaps && c.set[OptMode] && c.Mode == Local {
			return c, fmt.Errorf("%w: %s with local mode", ErrIncompatible, e.kind)
		}
		if e.kind == OptMode && c.set[OptEndGaps] {
			// peek at the value by applying to a scratch copy
			var scratch Config
			if err := e.apply(&scratch); err != nil {
				return c, err
			}
			if scratch.Mode == Local {
				return c, fmt.Errorf("%w: local mode with %s", ErrIncompatible, OptEndGaps)
			}
		}
		if err := e.apply(&c); err != nil {
			return c, err
		}
		c.set[e.kind] = true
	}
	return c, nil
}

// MustWith is With but panics on error, for tests and static configs.
func (c Config) MustWith(elems ...Element) Config {
	c2, err := c.With(elems...)
	if err != nil {
		panic(err)
	}
	return c2
}

// Validate checks that the configuration is complete and coherent.
// It fills in defaults for unset optional elements (output fields,
// threads, lanes) and is called by the engines before the first
// alignment; a failing Validate aborts the whole run with no pair
// computed.
func (c *Config) Validate() error {
	if c.EditDistance {
		if c.set[OptScoring] || c.set[OptGap] {
			return fmt.Errorf("%w: edit distance with scoring/gap scheme", ErrIncompatible)
		}
		if c.set[OptMode] && c.Mode != Global {
			return fmt.Errorf("%w: edit distance with %s mode", ErrIncompatible, c.Mode)
		}
	} else {
		if c.Scoring == nil {
			return ErrNoScoring
		}
		if !c.set[OptGap] {
			return ErrNoGap
		}
		if c.set[OptMaxErrors] {
			return fmt.Errorf("%w: max errors requires edit distance", ErrIncompatible)
		}
	}
	if !c.set[OptMode] {
		return fmt.Errorf("%w: %s", ErrMissing, OptMode)
	}
	if c.Mode == Local && c.set[OptEndGaps] {
		return fmt.Errorf("%w: local mode with free end gaps", ErrIncompatible)
	}
	if c.set[OptBand] {
		if c.Band.Lower > c.Band.Upper {
			return ErrInvalidBand
		}
		if c.Mode != Local && (c.Band.Lower > 0 || c.Band.Upper < 0) {
			// cell (0,0) lies on diagonal 0; a band not covering it
			// can not start a global alignment.
			return ErrBandExcludes
		}
	}
	if !c.set[OptOutput] {
		c.Output = OutputDefault
		c.set[OptOutput] = true
	}
	if !c.set[OptThreads] {
		c.Threads = runtime.NumCPU()
		c.set[OptThreads] = true
	}
	if !c.set[OptLanes] {
		c.Lanes = DefaultLanes
		c.set[OptLanes] = true
	}
	if !c.set[OptMaxErrors] {
		c.MaxErrors = -1 // no cutoff
	}
	return nil
}

// DefaultLanes is the default batch lane width.
const DefaultLanes = 8
