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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/iafan/cwalk"
	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
	"github.com/shenwei356/util/pathutil"
	"github.com/shenwei356/xopen"
	"github.com/spf13/cobra"
	"github.com/twotwotwo/sorts"
)

// Options contains the global flags
type Options struct {
	NumCPUs int
	Verbose bool

	LogFile  string
	Log2File bool

	Config string

	CompressionLevel int
}

func getOptions(cmd *cobra.Command) *Options {
	threads := getFlagNonNegativeInt(cmd, "threads")
	if threads == 0 {
		threads = runtime.NumCPU()
	}

	sorts.MaxProcs = threads
	runtime.GOMAXPROCS(threads)

	logfile := getFlagString(cmd, "log")
	return &Options{
		NumCPUs: threads,
		Verbose: !getFlagBool(cmd, "quiet"),

		LogFile:  logfile,
		Log2File: logfile != "",

		Config: getFlagString(cmd, "config"),

		CompressionLevel: -1,
	}
}

func checkError(err error) {
	if err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}

func isStdin(file string) bool {
	return file == "-"
}

func getFlagInt(cmd *cobra.Command, flag string) int {
	value, err := cmd.Flags().GetInt(flag)
	checkError(err)
	return value
}

func getFlagPositiveInt(cmd *cobra.Command, flag string) int {
	value, err := cmd.Flags().GetInt(flag)
	checkError(err)
	if value <= 0 {
		checkError(fmt.Errorf("value of flag --%s should be greater than 0", flag))
	}
	return value
}

func getFlagNonNegativeInt(cmd *cobra.Command, flag string) int {
	value, err := cmd.Flags().GetInt(flag)
	checkError(err)
	if value < 0 {
		checkError(fmt.Errorf("value of flag --%s should be greater than or equal to 0", flag))
	}
	return value
}

func getFlagBool(cmd *cobra.Command, flag string) bool {
	value, err := cmd.Flags().GetBool(flag)
	checkError(err)
	return value
}

func getFlagString(cmd *cobra.Command, flag string) string {
	value, err := cmd.Flags().GetString(flag)
	checkError(err)
	return value
}

func getFlagStringSlice(cmd *cobra.Command, flag string) []string {
	value, err := cmd.Flags().GetStringSlice(flag)
	checkError(err)
	return value
}

// outStream returns a buffered writer for a plain or gzip-compressed
// file, "-" meaning stdout. The caller flushes the buffered writer,
// closes the gzip writer if not nil, then closes the file.
func outStream(file string, gzipped bool, level int) (*bufio.Writer, *pgzip.Writer, *os.File, error) {
	var w *os.File
	if isStdin(file) {
		w = os.Stdout
	} else {
		var err error
		w, err = os.Create(file)
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err, "fail to write %s", file)
		}
	}

	if gzipped {
		gw, err := pgzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err, "fail to write %s", file)
		}
		return bufio.NewWriterSize(gw, 65536), gw, w, nil
	}
	return bufio.NewWriterSize(w, 65536), nil, w, nil
}

// reFastaSuffix matches the sequence files picked up when a directory
// is given as input.
var reFastaSuffix = regexp.MustCompile(`(?i)\.(f(ast)?a|f(ast)?q)(\.gz|\.xz|\.zst|\.bz2)?$`)

func getFileListFromDir(path string, pattern *regexp.Regexp, threads int) ([]string, error) {
	files := make([]string, 0, 512)
	ch := make(chan string, threads)
	done := make(chan int)
	go func() {
		for file := range ch {
			files = append(files, file)
		}
		done <- 1
	}()

	cwalk.NumWorkers = threads
	err := cwalk.WalkWithSymlinks(path, func(_path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && pattern.MatchString(info.Name()) {
			ch <- filepath.Join(path, _path)
		}
		return nil
	})
	close(ch)
	<-done
	if err != nil {
		return nil, err
	}

	return files, err
}

func getFileListFromFile(file string) ([]string, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return nil, errors.Wrapf(err, "fail to read file list %s", file)
	}

	var _file string
	lists := make([]string, 0, 512)
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		_file = strings.TrimSpace(scanner.Text())
		if _file == "" || _file[0] == '#' {
			continue
		}
		lists = append(lists, _file)
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "fail to read file list %s", file)
	}

	return lists, fh.Close()
}

// getFileListFromArgsAndFile merges sequence files from the positional
// arguments, an optional file of file names and directories walked
// recursively. With no input at all it falls back to stdin ("-").
func getFileListFromArgsAndFile(cmd *cobra.Command, args []string, flagName string, threads int) []string {
	files := make([]string, 0, len(args))
	if flagName != "" {
		if listFile := getFlagString(cmd, flagName); listFile != "" {
			list, err := getFileListFromFile(listFile)
			checkError(err)
			files = append(files, list...)
		}
	}
	files = append(files, args...)

	if len(files) == 0 {
		return []string{"-"}
	}

	out := make([]string, 0, len(files))
	for _, file := range files {
		if isStdin(file) {
			out = append(out, file)
			continue
		}
		if isDir, err := pathutil.DirExists(file); err == nil && isDir {
			fromDir, err := getFileListFromDir(file, reFastaSuffix, threads)
			checkError(err)
			out = append(out, fromDir...)
			continue
		}
		if ok, err := pathutil.Exists(file); err != nil || !ok {
			checkError(fmt.Errorf("input file not found: %s", file))
		}
		out = append(out, file)
	}
	if len(out) == 0 {
		checkError(fmt.Errorf("no sequence files found"))
	}
	return out
}

func stringSplitNByByte(s string, sep byte, n int, a *[]string) {
	if a == nil {
		tmp := make([]string, n)
		a = &tmp
	}

	n--
	i := 0
	for i < n {
		m := strings.IndexByte(s, sep)
		if m < 0 {
			break
		}
		(*a)[i] = s[:m]
		s = s[m+1:]
		i++
	}
	(*a)[i] = s

	(*a) = (*a)[:i+1]
}

