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
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/shenwei356/util/pathutil"

	"github.com/shenwei356/seqalign/seqalign/align"
)

// ConfFileName is the per-user configuration file looked up in the
// home directory when --config is not given.
const ConfFileName = ".seqalign.toml"

// Conf holds default alignment parameters, overridable per flag.
type Conf struct {
	Match    int `toml:"match"`
	Mismatch int `toml:"mismatch"`

	GapOpen   int `toml:"gap-open"`
	GapExtend int `toml:"gap-extend"`

	Mode string `toml:"mode"`

	Lanes int `toml:"lanes"`

	LineWidth int `toml:"line-width"`

	// Scores overrides individual substitution scores on top of the
	// match/mismatch scheme. Keys are symbol pairs, e.g.
	//
	//	[scores]
	//	AG = -1
	//
	// scores both A-vs-G and G-vs-A with -1.
	Scores map[string]int `toml:"scores"`
}

// defaultConf matches the DNA scheme of align.DNA() with typical
// affine gap costs.
var defaultConf = Conf{
	Match:     2,
	Mismatch:  -3,
	GapOpen:   -5,
	GapExtend: -2,
	Mode:      "global",
	Lanes:     align.DefaultLanes,
	LineWidth: 60,
}

// loadConf reads the configuration file. An explicitly given path must
// exist; the default per-user file is optional.
func loadConf(path string) (*Conf, error) {
	conf := defaultConf

	explicit := path != ""
	if !explicit {
		home, err := homedir.Dir()
		if err != nil {
			return &conf, nil
		}
		path = filepath.Join(home, ConfFileName)
	}

	if ok, err := pathutil.Exists(path); err != nil || !ok {
		if explicit {
			return nil, errors.Errorf("config file not found: %s", path)
		}
		return &conf, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "fail to read config file %s", path)
	}
	if err = toml.Unmarshal(data, &conf); err != nil {
		return nil, errors.Wrapf(err, "fail to parse config file %s", path)
	}
	return &conf, nil
}
