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

// Package pipeline schedules many pair alignments over a bounded pool
// of workers and streams the results lazily: the caller consumes a
// channel while later pairs are still being read and aligned, with the
// number of in-flight batches bounded by the thread count.
package pipeline

import (
	"sync"

	"github.com/shenwei356/seqalign/seqalign/align"
	"github.com/shenwei356/seqalign/seqalign/align/batch"
)

// Pair is one alignment job, a named query/target pair of rank-encoded
// sequences.
type Pair struct {
	QueryID  string
	TargetID string
	Query    []byte
	Target   []byte
}

// PairResult carries the outcome of one pair. ID is the zero-based
// input order of the pair. Result is nil when Err is set; errors are
// per pair (align.ErrMaxErrorsExceeded for an edit-distance cutoff, a
// band excluding a pair's sink cell) and never spill over to the other
// pairs of a batch. Recycle Result with align.RecycleResult after use.
type PairResult struct {
	ID     int
	Pair   *Pair
	Result *align.Result
	Err    error
}

// Scheduler fans pair alignments out to Config.Threads workers, each
// running its own batch executor, and merges the results into one
// output stream. A Scheduler is stateless between runs and may be
// reused; a single run must not be consumed concurrently.
type Scheduler struct {
	cfg align.Config

	// KeepOrder makes the output stream follow the input order,
	// re-buffering batches that finish early. Off, results arrive in
	// completion order.
	KeepOrder bool

	poolExecutor *sync.Pool
}

// New validates the configuration and builds a scheduler.
func New(cfg *align.Config) (*Scheduler, error) {
	c := *cfg
	if err := c.Validate(); err != nil {
		return nil, err
	}
	// surface kernel-selection errors before any goroutine starts
	if _, err := batch.NewExecutor(&c); err != nil {
		return nil, err
	}
	s := &Scheduler{cfg: c}
	s.poolExecutor = &sync.Pool{New: func() interface{} {
		x, _ := batch.NewExecutor(&s.cfg)
		return x
	}}
	return s, nil
}

// Config returns the validated configuration the scheduler runs with.
func (s *Scheduler) Config() *align.Config { return &s.cfg }

// job is one batch of consecutive pairs handed to a worker.
type job struct {
	serial int // batch sequence number, for order recovery
	pairs  []*Pair
	ids    []int
}

// jobResult is a finished batch.
type jobResult struct {
	serial  int
	results []*PairResult
}

// Align reads pairs from in until it is closed and returns a channel
// of results that is closed when all pairs are done. Consecutive pairs
// are grouped into batches of the configured lane width; at most
// Threads batches are in flight at a time, so a slow consumer
// backpressures the readers instead of buffering everything.
//
// The OnResult callback, when configured, fires once per finished pair
// on the worker that aligned it, before the result enters the output
// stream.
func (s *Scheduler) Align(in <-chan *Pair) <-chan *PairResult {
	threads := s.cfg.Threads
	lanes := s.cfg.Lanes
	out := make(chan *PairResult, threads*lanes)

	chJob := make(chan *jobResult, threads)
	done := make(chan int)

	// single outputter, recovering input order if asked to
	go func() {
		if !s.KeepOrder {
			for jr := range chJob {
				for _, pr := range jr.results {
					out <- pr
				}
			}
		} else {
			buf := make(map[int]*jobResult, threads)
			next := 0
			for jr := range chJob {
				if jr.serial != next {
					buf[jr.serial] = jr
					continue
				}
				for {
					for _, pr := range jr.results {
						out <- pr
					}
					next++
					var ok bool
					if jr, ok = buf[next]; !ok {
						break
					}
					delete(buf, next)
				}
			}
		}
		done <- 1
	}()

	go func() {
		var wg sync.WaitGroup
		tokens := make(chan int, threads)

		serial := 0
		id := 0
		pairs := make([]*Pair, 0, lanes)
		ids := make([]int, 0, lanes)

		flush := func() {
			j := &job{serial: serial, pairs: pairs, ids: ids}
			serial++
			pairs = make([]*Pair, 0, lanes)
			ids = make([]int, 0, lanes)

			tokens <- 1
			wg.Add(1)
			go func(j *job) {
				defer func() {
					<-tokens
					wg.Done()
				}()
				chJob <- s.runJob(j)
			}(j)
		}

		for p := range in {
			pairs = append(pairs, p)
			ids = append(ids, id)
			id++
			if len(pairs) == lanes {
				flush()
			}
		}
		if len(pairs) > 0 {
			flush()
		}

		wg.Wait()
		close(chJob)
		<-done
		close(out)
	}()

	return out
}

// AlignAll is the slice convenience around Align: it feeds all pairs,
// collects all results and returns them in input order. It orders by
// the result IDs itself without touching KeepOrder, so concurrent runs
// on one Scheduler are safe.
func (s *Scheduler) AlignAll(pairs []*Pair) []*PairResult {
	in := make(chan *Pair, len(pairs))
	for _, p := range pairs {
		in <- p
	}
	close(in)

	results := make([]*PairResult, len(pairs))
	for pr := range s.Align(in) {
		results[pr.ID] = pr
	}
	return results
}

func (s *Scheduler) runJob(j *job) *jobResult {
	x := s.poolExecutor.Get().(*batch.Executor)
	defer s.poolExecutor.Put(x)

	bpairs := make([]batch.Pair, len(j.pairs))
	for i, p := range j.pairs {
		bpairs[i] = batch.Pair{ID: j.ids[i], Query: p.Query, Target: p.Target}
	}

	prs := make([]*PairResult, len(j.pairs))
	results, errs := x.Run(bpairs)
	for i, p := range j.pairs {
		pr := &PairResult{ID: j.ids[i], Pair: p}
		if errs[i] != nil {
			pr.Err = errs[i]
		} else {
			pr.Result = results[i]
			if s.cfg.OnResult != nil {
				s.cfg.OnResult(results[i])
			}
		}
		prs[i] = pr
	}
	return &jobResult{serial: j.serial, results: prs}
}
