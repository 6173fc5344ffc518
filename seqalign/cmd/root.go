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
	"fmt"
	"os"
	"runtime"

	colorable "github.com/mattn/go-colorable"
	"github.com/shenwei356/go-logging"
	"github.com/spf13/cobra"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "seqalign",
	Short: "pairwise sequence alignment with a SIMD-style batch engine",
	Long: fmt.Sprintf(`seqalign: pairwise sequence alignment with a SIMD-style batch engine

Version: v%s

Documents: https://github.com/shenwei356/seqalign
Source code: https://github.com/shenwei356/seqalign

Features:
  1. Global, local and semi-global alignment with affine or linear gap costs.
  2. Banded alignment and bit-vector edit distance with an error cutoff.
  3. Batches of pairs aligned in lock step, many lanes at a time.
  4. Linear-space trace-back for long sequences.

`, VERSION),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().IntP("threads", "j", runtime.NumCPU(),
		formatFlagUsage(`Number of CPU cores to use. By default, it uses all available cores.`))

	RootCmd.PersistentFlags().BoolP("quiet", "", false,
		formatFlagUsage(`Do not print any verbose information. But you can write them to a file with --log.`))

	RootCmd.PersistentFlags().StringP("log", "", "",
		formatFlagUsage(`Log file.`))

	RootCmd.PersistentFlags().StringP("config", "", "",
		formatFlagUsage(`Configuration file with default alignment parameters ("~/.seqalign.toml" by default).`))

	RootCmd.CompletionOptions.DisableDefaultCmd = true
	RootCmd.SetUsageTemplate(usageTemplate(""))
}

var log = logging.MustGetLogger("seqalign")

var logFormat = logging.MustStringFormatter(
	`%{color}%{time:15:04:05.000} [%{level:.4s}]%{color:reset} %{message}`,
)

var logFormatPlain = logging.MustStringFormatter(
	`%{time:15:04:05.000} [%{level:.4s}] %{message}`,
)

func init() {
	backend := logging.NewLogBackend(colorable.NewColorableStderr(), "", 0)
	logging.SetBackend(logging.NewBackendFormatter(backend, logFormat))
}

// addLog mirrors the log to a file, additionally to stderr when verbose.
// The caller closes the returned file after the command finishes.
func addLog(file string, verbose bool) *os.File {
	fh, err := os.Create(file)
	checkError(err)

	backendFile := logging.NewBackendFormatter(
		logging.NewLogBackend(fh, "", 0), logFormatPlain)
	if verbose {
		backendStderr := logging.NewBackendFormatter(
			logging.NewLogBackend(colorable.NewColorableStderr(), "", 0), logFormat)
		logging.SetBackend(backendStderr, backendFile)
	} else {
		logging.SetBackend(backendFile)
	}
	return fh
}

func usageTemplate(s string) string {
	return fmt.Sprintf(`Usage:{{if .Runnable}}
  {{.CommandPath}} %s{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsagesWrapped 110 | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsagesWrapped 110 | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`, s)
}

// formatFlagUsage wraps long usage strings so cobra's flag listing stays
// readable in a narrow terminal.
func formatFlagUsage(usage string) string {
	threshold := 60
	if len(usage) <= threshold {
		return usage
	}

	words := make([]string, 0, 8)
	var buf string
	for _, w := range splitWords(usage) {
		if buf == "" {
			buf = w
		} else if len(buf)+1+len(w) <= threshold {
			buf += " " + w
		} else {
			words = append(words, buf)
			buf = w
		}
	}
	if buf != "" {
		words = append(words, buf)
	}

	out := ""
	for i, line := range words {
		if i > 0 {
			out += "\n"
		}
		out += line
	}
	return out
}

func splitWords(s string) []string {
	words := make([]string, 0, 16)
	start := -1
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' || s[i] == '\n' || s[i] == '\t' {
			if start >= 0 {
				words = append(words, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, s[start:])
	}
	return words
}
