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

package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rdleal/intervalst/interval"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/spf13/cobra"
	"github.com/twotwotwo/sorts"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"github.com/zeebo/wyhash"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/shenwei356/seqalign/seqalign/align"
	"github.com/shenwei356/seqalign/seqalign/pipeline"
)

var alignCmd = &cobra.Command{
	Use:   "align",
	Short: "Align query sequences against target sequences",
	Long: `Align query sequences against target sequences

Input:
  1. Query sequences from positional arguments (FASTA/Q, plain or gzipped,
     "-" for stdin). Directories are searched recursively for sequence files,
     and -X/--infile-list reads a file of file names.
  2. Target sequences from -t/--target files.
  3. By default every query is aligned against every target.
     With --paired, the i-th query is aligned against the i-th target.

Alignment modes:
  1. global (default):  both sequences end to end (Needleman-Wunsch).
  2. local:             best-scoring pair of subsequences (Smith-Waterman).
  3. semiglobal:        global with cost-free end gaps, see --free-ends.

Output (TSV):
  1. Coordinates are 1-based and inclusive.
  2. -a/--all appends alignment details: length, identity, gaps, CIGAR
     and the gapped sequences.
  3. --text switches to human-readable alignment blocks instead.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)
		seq.ValidateSeq = false

		timeStart := time.Now()

		var fhLog *os.File
		if opt.Log2File {
			fhLog = addLog(opt.LogFile, opt.Verbose)
		}
		outputLog := opt.Verbose || opt.Log2File
		defer func() {
			if outputLog {
				log.Infof("elapsed time: %s", time.Since(timeStart))
			}
			if opt.Log2File {
				fhLog.Close()
			}
		}()

		conf, err := loadConf(opt.Config)
		checkError(err)

		// ---------------------------------------------------------------
		// flags

		outFile := getFlagString(cmd, "out-file")
		targetFiles := getFlagStringSlice(cmd, "target")
		if len(targetFiles) == 0 {
			checkError(fmt.Errorf("flag -t/--target needed"))
		}
		paired := getFlagBool(cmd, "paired")

		match := flagOrConf(cmd, "match", conf.Match)
		mismatch := flagOrConf(cmd, "mismatch", conf.Mismatch)
		gapOpen := flagOrConf(cmd, "gap-open", conf.GapOpen)
		gapExtend := flagOrConf(cmd, "gap-extend", conf.GapExtend)
		linearGap := getFlagInt(cmd, "gap")
		useLinearGap := cmd.Flags().Changed("gap")

		modeStr := strings.ToLower(getFlagString(cmd, "mode"))
		if !cmd.Flags().Changed("mode") {
			modeStr = strings.ToLower(conf.Mode)
		}
		freeEnds := getFlagStringSlice(cmd, "free-ends")
		bandStr := getFlagString(cmd, "band")

		editDistance := getFlagBool(cmd, "edit-distance")
		maxErrors := getFlagInt(cmd, "max-errors")

		outAll := getFlagBool(cmd, "all")
		outText := getFlagBool(cmd, "text")
		lineWidth := flagOrConf(cmd, "line-width", conf.LineWidth)
		linearSpace := getFlagBool(cmd, "linear-space")
		lanes := flagOrConf(cmd, "lanes", conf.Lanes)
		keepOrder := getFlagBool(cmd, "keep-order")
		dedup := getFlagBool(cmd, "dedup")
		nonOverlapping := getFlagBool(cmd, "non-overlapping")
		sortByLength := getFlagBool(cmd, "sort-by-length")
		histFile := getFlagString(cmd, "score-hist")

		if nonOverlapping && modeStr != "local" {
			checkError(fmt.Errorf("flag --non-overlapping only makes sense with local mode"))
		}

		if outputLog {
			log.Infof("seqalign v%s", VERSION)
			log.Info("  https://github.com/shenwei356/seqalign")
			log.Info()
		}

		// ---------------------------------------------------------------
		// input sequences

		queryFiles := getFileListFromArgsAndFile(cmd, args, "infile-list", opt.NumCPUs)

		qIDs, qSeqs := readSeqFiles(queryFiles)
		tIDs, tSeqs := readSeqFiles(targetFiles)
		if outputLog {
			log.Infof("%d query and %d target sequences loaded", len(qSeqs), len(tSeqs))
		}
		if len(qSeqs) == 0 || len(tSeqs) == 0 {
			checkError(fmt.Errorf("no sequences to align"))
		}
		if paired && len(qSeqs) != len(tSeqs) {
			checkError(fmt.Errorf("--paired needs equal numbers of queries (%d) and targets (%d)",
				len(qSeqs), len(tSeqs)))
		}

		// ---------------------------------------------------------------
		// pair list

		var pairs []*pipeline.Pair
		if paired {
			pairs = make([]*pipeline.Pair, 0, len(qSeqs))
			for i := range qSeqs {
				pairs = append(pairs, &pipeline.Pair{
					QueryID: qIDs[i], TargetID: tIDs[i],
					Query: qSeqs[i], Target: tSeqs[i],
				})
			}
		} else {
			pairs = make([]*pipeline.Pair, 0, len(qSeqs)*len(tSeqs))
			for i := range qSeqs {
				for j := range tSeqs {
					pairs = append(pairs, &pipeline.Pair{
						QueryID: qIDs[i], TargetID: tIDs[j],
						Query: qSeqs[i], Target: tSeqs[j],
					})
				}
			}
		}

		if dedup {
			seen := make(map[uint64]interface{}, len(pairs))
			uniq := pairs[:0]
			var h uint64
			for _, p := range pairs {
				h = wyhash.Hash(p.Target, wyhash.Hash(p.Query, 1))
				if _, ok := seen[h]; ok {
					continue
				}
				seen[h] = struct{}{}
				uniq = append(uniq, p)
			}
			if outputLog && len(uniq) < len(pairs) {
				log.Infof("%d duplicated pairs skipped", len(pairs)-len(uniq))
			}
			pairs = uniq
		}

		if sortByLength {
			// longest pairs first, so lanes of one batch carry similar work
			sorts.Quicksort(pairsByLenDesc(pairs))
		}

		// ---------------------------------------------------------------
		// configuration

		var pbs *mpb.Progress
		var bar *mpb.Bar
		if opt.Verbose {
			pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
			bar = pbs.AddBar(int64(len(pairs)),
				mpb.PrependDecorators(
					decor.Name("aligned pairs: ", decor.WC{W: len("aligned pairs: "), C: decor.DindentRight}),
					decor.Name("", decor.WCSyncSpaceR),
					decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
				),
				mpb.AppendDecorators(
					decor.OnComplete(decor.Percentage(decor.WC{W: 5}), ". done"),
				),
			)
		}

		elems := make([]align.Element, 0, 8)
		if editDistance {
			elems = append(elems, align.WithEditDistance())
			if maxErrors >= 0 {
				elems = append(elems, align.WithMaxErrors(maxErrors))
			}
		} else {
			// sequences are aligned over their raw byte values, so the
			// substitution matrix covers the whole byte alphabet
			scheme, err := align.MatchMismatch(256, match, mismatch)
			checkError(err)
			for pair, score := range conf.Scores {
				if len(pair) != 2 {
					checkError(fmt.Errorf("invalid substitution pair in config file: %q, expecting two symbols", pair))
				}
				scheme.SetSymmetric(pair[0], pair[1], score)
			}
			elems = append(elems, align.WithScoring(scheme))
			if useLinearGap {
				elems = append(elems, align.WithGap(align.LinearGap(linearGap)))
			} else {
				elems = append(elems, align.WithGap(align.AffineGap(gapOpen, gapExtend)))
			}
		}

		if len(freeEnds) > 0 {
			eg, err := parseFreeEnds(freeEnds)
			checkError(err)
			elems = append(elems, align.WithEndGaps(eg))
			if modeStr == "local" {
				// let the registry report the contradiction
				elems = append(elems, align.WithMode(align.Local))
			}
		} else {
			mode, err := parseMode(modeStr)
			checkError(err)
			elems = append(elems, align.WithMode(mode))
		}

		if bandStr != "" {
			lower, upper, err := parseBand(bandStr)
			checkError(err)
			elems = append(elems, align.WithBand(lower, upper))
		}

		if outAll || outText {
			elems = append(elems, align.WithOutput(align.OutputDefault|align.OutputAlignment))
		}
		if linearSpace {
			elems = append(elems, align.WithTrace(align.TraceLinearSpace))
		}
		elems = append(elems,
			align.WithThreads(opt.NumCPUs),
			align.WithLanes(lanes))
		if bar != nil {
			elems = append(elems, align.WithOnResult(func(r *align.Result) {
				bar.Increment()
			}))
		}

		cfg, err := align.Config{}.With(elems...)
		checkError(err)

		sch, err := pipeline.New(&cfg)
		checkError(err)
		sch.KeepOrder = keepOrder

		// ---------------------------------------------------------------
		// output

		outfh, gw, w, err := outStream(outFile, strings.HasSuffix(outFile, ".gz"), opt.CompressionLevel)
		checkError(err)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		if !outText {
			fmt.Fprint(outfh, "query\ttarget\tqlen\ttlen\tscore\tqstart\tqend\ttstart\ttend")
			if outAll {
				fmt.Fprint(outfh, "\talen\tpident\tgaps\tcigar\tqalign\ttalign")
			}
			fmt.Fprintln(outfh)
		}

		// ---------------------------------------------------------------
		// align

		in := make(chan *pipeline.Pair, opt.NumCPUs)
		go func() {
			for _, p := range pairs {
				in <- p
			}
			close(in)
		}()

		cmpFn := func(x, y int) int { return x - y }
		itrees := make(map[string]*interval.SearchTree[int, int], len(qSeqs))

		scores := make([]float64, 0, len(pairs))
		var nFailed, nOverlap int
		for pr := range sch.Align(in) {
			if pr.Err != nil {
				nFailed++
				if bar != nil {
					bar.Increment() // failed pairs never reach the callback
				}
				continue
			}
			r := pr.Result

			if nonOverlapping && r.QEnd > r.QBegin {
				itree, ok := itrees[pr.Pair.QueryID]
				if !ok {
					itree = interval.NewSearchTree[int, int](cmpFn)
					itrees[pr.Pair.QueryID] = itree
				}
				if _, ok = itree.AnyIntersection(r.QBegin, r.QEnd-1); ok {
					nOverlap++
					align.RecycleResult(r)
					continue
				}
				itree.Insert(r.QBegin, r.QEnd-1, pr.ID)
			}

			scores = append(scores, float64(r.Score))

			if outText {
				writeAlignmentText(outfh, pr, lineWidth)
			} else {
				fmt.Fprintf(outfh, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d",
					pr.Pair.QueryID, pr.Pair.TargetID,
					len(pr.Pair.Query), len(pr.Pair.Target),
					r.Score,
					r.QBegin+1, r.QEnd, r.TBegin+1, r.TEnd)
				if outAll {
					fmt.Fprintf(outfh, "\t%d\t%.2f\t%d\t%s\t%s\t%s",
						r.Len, r.PIdent(), r.Gaps, r.CIGAR(true), r.AlignQ, r.AlignT)
				}
				fmt.Fprintln(outfh)
			}

			align.RecycleResult(r)
		}
		if pbs != nil {
			pbs.Wait()
		}

		// ---------------------------------------------------------------
		// summary

		if outputLog {
			log.Infof("%d pairs aligned, %d filtered by the error cutoff, %d overlapping hits skipped",
				len(scores), nFailed, nOverlap)
			if len(scores) > 0 {
				sorted := make([]float64, len(scores))
				copy(sorted, scores)
				sort.Float64s(sorted)
				log.Infof("score: min %.0f, median %.0f, max %.0f, mean %.2f, stdev %.2f",
					sorted[0],
					stat.Quantile(0.5, stat.Empirical, sorted, nil),
					sorted[len(sorted)-1],
					stat.Mean(sorted, nil),
					stat.StdDev(sorted, nil))
			}
		}

		if histFile != "" && len(scores) > 0 {
			checkError(saveScoreHist(scores, histFile))
			if outputLog {
				log.Infof("score histogram saved to: %s", histFile)
			}
		}
	},
}

func init() {
	RootCmd.AddCommand(alignCmd)

	alignCmd.Flags().StringSliceP("target", "t", []string{},
		formatFlagUsage(`Target sequence file(s) (FASTA/Q, plain or gzipped).`))
	alignCmd.Flags().StringP("infile-list", "X", "",
		formatFlagUsage(`File of query file names, one per line. A "#" starts a comment.`))
	alignCmd.Flags().BoolP("paired", "", false,
		formatFlagUsage(`Align the i-th query against the i-th target instead of all against all.`))
	alignCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file, supports the ".gz" suffix ("-" for stdout).`))

	alignCmd.Flags().IntP("match", "", defaultConf.Match,
		formatFlagUsage(`Match score.`))
	alignCmd.Flags().IntP("mismatch", "", defaultConf.Mismatch,
		formatFlagUsage(`Mismatch score, usually negative.`))
	alignCmd.Flags().IntP("gap-open", "", defaultConf.GapOpen,
		formatFlagUsage(`Gap open score, charged once per gap, usually negative.`))
	alignCmd.Flags().IntP("gap-extend", "", defaultConf.GapExtend,
		formatFlagUsage(`Gap extension score, charged per gap symbol, usually negative.`))
	alignCmd.Flags().IntP("gap", "", -2,
		formatFlagUsage(`Linear gap score, i.e. no gap open charge. Overrides --gap-open/--gap-extend.`))

	alignCmd.Flags().StringP("mode", "m", defaultConf.Mode,
		formatFlagUsage(`Alignment mode: global, local or semiglobal.`))
	alignCmd.Flags().StringSliceP("free-ends", "", []string{},
		formatFlagUsage(`Cost-free end gaps for semi-global alignment: any of q5, q3, t5, t3, or "all". q5 means the query may start with an unaligned overhang, etc. Implies semiglobal mode.`))
	alignCmd.Flags().StringP("band", "", "",
		formatFlagUsage(`Restrict the alignment to diagonals "lower,upper", e.g. "-16,16". Cell (i,j) lies on diagonal j-i.`))

	alignCmd.Flags().BoolP("edit-distance", "e", false,
		formatFlagUsage(`Compute the unit-cost edit distance with the bit-vector kernel instead of a scored alignment. The score column holds the negated distance.`))
	alignCmd.Flags().IntP("max-errors", "", -1,
		formatFlagUsage(`Skip pairs whose edit distance exceeds this cutoff, aborting them early. Needs -e/--edit-distance. Negative for no cutoff.`))

	alignCmd.Flags().BoolP("all", "a", false,
		formatFlagUsage(`Append alignment details: length, identity, gaps, CIGAR and the gapped sequences.`))
	alignCmd.Flags().BoolP("text", "", false,
		formatFlagUsage(`Output human-readable alignment blocks instead of TSV.`))
	alignCmd.Flags().IntP("line-width", "w", defaultConf.LineWidth,
		formatFlagUsage(`Line width of alignment blocks for --text. 0 for no wrapping.`))
	alignCmd.Flags().BoolP("linear-space", "", false,
		formatFlagUsage(`Use linear-space trace-back (Hirschberg), for aligning long sequences with -a/--all.`))

	alignCmd.Flags().IntP("lanes", "", defaultConf.Lanes,
		formatFlagUsage(`Lanes of the batch engine, a power of two in [1, 64]. 1 forces the scalar kernel.`))
	alignCmd.Flags().BoolP("keep-order", "k", false,
		formatFlagUsage(`Output results in input order instead of completion order.`))
	alignCmd.Flags().BoolP("dedup", "", false,
		formatFlagUsage(`Skip duplicated sequence pairs.`))
	alignCmd.Flags().BoolP("non-overlapping", "", false,
		formatFlagUsage(`Only report local hits whose query regions do not overlap an already reported hit of the same query.`))
	alignCmd.Flags().BoolP("sort-by-length", "", false,
		formatFlagUsage(`Process longest pairs first, evening out the per-batch work.`))
	alignCmd.Flags().StringP("score-hist", "", "",
		formatFlagUsage(`Save a histogram of alignment scores to this image file (.png, .svg, .pdf).`))

	alignCmd.SetUsageTemplate(usageTemplate("[flags] [query.fasta(.gz) ...]"))
}

// flagOrConf prefers an explicitly set flag over the configuration file.
func flagOrConf(cmd *cobra.Command, flag string, confValue int) int {
	if cmd.Flags().Changed(flag) {
		return getFlagInt(cmd, flag)
	}
	return confValue
}

func parseMode(s string) (align.Mode, error) {
	switch s {
	case "global":
		return align.Global, nil
	case "local":
		return align.Local, nil
	case "semiglobal", "semi-global":
		return align.SemiGlobal, nil
	}
	return align.Global, fmt.Errorf("unknown alignment mode: %s, available: global, local, semiglobal", s)
}

func parseFreeEnds(flags []string) (align.EndGaps, error) {
	var eg align.EndGaps
	for _, f := range flags {
		switch strings.ToLower(f) {
		case "all":
			eg = align.FreeEndsAll
		case "q5":
			eg.Seq1Leading = true
		case "q3":
			eg.Seq1Trailing = true
		case "t5":
			eg.Seq2Leading = true
		case "t3":
			eg.Seq2Trailing = true
		default:
			return eg, fmt.Errorf("unknown free end: %s, available: q5, q3, t5, t3, all", f)
		}
	}
	return eg, nil
}

func parseBand(s string) (int, int, error) {
	items := make([]string, 2)
	stringSplitNByByte(s, ',', 2, &items)
	if len(items) != 2 {
		return 0, 0, fmt.Errorf(`invalid band: %s, expecting "lower,upper"`, s)
	}
	lower, err := strconv.Atoi(strings.TrimSpace(items[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid lower diagonal: %s", items[0])
	}
	upper, err := strconv.Atoi(strings.TrimSpace(items[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid upper diagonal: %s", items[1])
	}
	return lower, upper, nil
}

// readSeqFiles loads all records of the given FASTA/Q files,
// uppercased, keeping the input order.
func readSeqFiles(files []string) ([]string, [][]byte) {
	ids := make([]string, 0, 64)
	seqs := make([][]byte, 0, 64)

	var record *fastx.Record
	for _, file := range files {
		fastxReader, err := fastx.NewReader(nil, file, "")
		checkError(errors.Wrap(err, file))

		for {
			record, err = fastxReader.Read()
			if err != nil {
				if err == io.EOF {
					break
				}
				checkError(errors.Wrap(err, file))
				break
			}
			ids = append(ids, string(record.ID))
			seqs = append(seqs, bytes.ToUpper(record.Seq.Seq))
		}
		fastxReader.Close()
	}
	return ids, seqs
}

// pairsByLenDesc sorts pairs by total sequence length, longest first.
type pairsByLenDesc []*pipeline.Pair

func (s pairsByLenDesc) Len() int { return len(s) }
func (s pairsByLenDesc) Less(i, j int) bool {
	return len(s[i].Query)+len(s[i].Target) > len(s[j].Query)+len(s[j].Target)
}
func (s pairsByLenDesc) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

// writeAlignmentText prints one alignment as interleaved blocks of
// query, match and target lines, wrapped at width columns.
func writeAlignmentText(outfh io.Writer, pr *pipeline.PairResult, width int) {
	r := pr.Result
	fmt.Fprintf(outfh, ">%s vs %s  score=%d  q=[%d, %d]  t=[%d, %d]  pident=%.2f%%\n",
		pr.Pair.QueryID, pr.Pair.TargetID, r.Score,
		r.QBegin+1, r.QEnd, r.TBegin+1, r.TEnd, r.PIdent())

	l := len(r.AlignQ)
	if width < 1 {
		width = l
	}
	for start := 0; start < l; start += width {
		end := start + width
		if end > l {
			end = l
		}
		fmt.Fprintf(outfh, "  %s\n  %s\n  %s\n\n",
			r.AlignQ[start:end], r.AlignM[start:end], r.AlignT[start:end])
	}
	if l == 0 {
		fmt.Fprintln(outfh)
	}
}

// saveScoreHist plots the score distribution.
func saveScoreHist(scores []float64, file string) error {
	p := plot.New()
	p.Title.Text = "alignment score distribution"
	p.X.Label.Text = "score"
	p.Y.Label.Text = "pairs"

	h, err := plotter.NewHist(plotter.Values(scores), 32)
	if err != nil {
		return errors.Wrap(err, "fail to build histogram")
	}
	p.Add(h)

	if err = p.Save(5*vg.Inch, 4*vg.Inch, file); err != nil {
		return errors.Wrapf(err, "fail to save histogram to %s", file)
	}
	return nil
}
