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
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/util/bytesize"
	"github.com/shenwei356/util/pathutil"
	"github.com/shenwei356/xopen"
	"github.com/spf13/cobra"
	"github.com/twotwotwo/sorts"
	"github.com/ysard/dskmer/dskmer/count"
	"github.com/ysard/dskmer/dskmer/kmer"
	"github.com/ysard/dskmer/dskmer/solid"
)

// countCmd represents
var countCmd = &cobra.Command{
	Use:   "count",
	Short: "count solid k-mers from FASTA/Q sequences",
	Long: `count solid k-mers from FASTA/Q sequences

The input is scanned in one or more passes bounded by -d/--max-disk;
within a pass, canonical k-mers are hashed into temporary partition
files sized to fit -m/--max-memory, then every partition is sorted and
reduced in parallel. K-mers occurring at least -t/--min-count times
are written, sorted within each partition, as a binary file
("out-prefix" + "` + extDataFile + `") or as tab-delimited text with --text.

Attentions:
  1. Sequences are read from files; reading from stdin is not
     supported since counting needs a volume estimate up front.
  2. Temporary files share -p/--temp-prefix; leftovers from an
     aborted run with the same prefix are removed automatically.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)
		runtime.GOMAXPROCS(opt.NumCPUs)
		sorts.MaxProcs = opt.NumCPUs
		seq.ValidateSeq = false

		var err error

		var files []string
		infileList := getFlagString(cmd, "infile-list")
		if infileList != "" {
			files, err = getListFromFile(infileList)
			checkError(err)
		} else {
			files = getFileList(args)
		}
		if len(files) == 0 {
			checkError(fmt.Errorf("no input files given"))
		}
		checkError(checkFiles(files...))

		k := getFlagPositiveInt(cmd, "kmer-len")
		if k > kmer.MaxK {
			checkError(fmt.Errorf("k > %d not supported", kmer.MaxK))
		}
		minCount := getFlagPositiveInt(cmd, "min-count")
		maxMemory := getFlagPositiveInt(cmd, "max-memory")
		maxDisk := getFlagNonNegativeInt(cmd, "max-disk")
		maxOpenFiles := getFlagPositiveInt(cmd, "max-open-files")
		tempPrefix := getFlagString(cmd, "temp-prefix")
		histFile := getFlagString(cmd, "histogram")
		summaryFile := getFlagString(cmd, "summary")
		outFile := getFlagString(cmd, "out-prefix")
		outText := getFlagBool(cmd, "text")

		if dir := filepath.Dir(tempPrefix); dir != "." {
			existed, err := pathutil.DirExists(dir)
			checkError(err)
			if !existed {
				checkError(fmt.Errorf("directory of temp-prefix not existed: %s", dir))
			}
		}

		// binary output needs a real file name
		if !outText && isStdout(outFile) {
			outText = true
		}

		var sink count.Sink
		var solidWriter *solid.Writer
		var textWriter *xopen.Writer
		if outText {
			textWriter, err = xopen.Wopen(outFile)
			checkError(err)
			sink = &tsvSink{fh: textWriter, k: k}
		} else {
			outFile += extDataFile
			solidWriter, err = solid.New(outFile, k)
			checkError(err)
			sink = solidWriter
		}

		co := &count.CountingOptions{
			K:             k,
			MinCount:      minCount,
			MaxMemory:     maxMemory,
			MaxDisk:       maxDisk,
			Threads:       opt.NumCPUs,
			TempPrefix:    tempPrefix,
			MaxOpenFiles:  maxOpenFiles,
			HistogramFile: histFile,
			SummaryFile:   summaryFile,
			Verbose:       opt.Verbose,
		}

		if opt.Verbose {
			log.Infof("counting %d-mers from %d file(s), solidity threshold: %d", k, len(files), minCount)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		timeStart := time.Now()
		stats, err := count.RunContext(ctx, co, newFastxBank(files), sink)
		checkError(err)

		if solidWriter != nil {
			checkError(solidWriter.Close())
		} else {
			checkError(textWriter.Flush())
			checkError(textWriter.Close())
		}

		if opt.Verbose {
			log.Infof("%s k-mers scanned (%s of k-mer data) in %d pass(es) x %d partition(s)",
				humanize.Comma(int64(stats.TotalKmers)),
				bytesize.ByteSize(float64(stats.Volume)),
				stats.Passes, stats.Partitions)
			log.Infof("%s distinct k-mers, %s solid with count >= %d",
				humanize.Comma(int64(stats.DistinctKmers)),
				humanize.Comma(int64(stats.SolidKmers)), minCount)
			if !outText {
				log.Infof("solid k-mers saved to %s", outFile)
			}
			log.Infof("elapsed time: %s", time.Since(timeStart))
		}
	},
}

// tsvSink writes solid k-mers as tab-delimited "kmer<TAB>count" lines.
type tsvSink struct {
	fh *xopen.Writer
	k  int
}

func (s *tsvSink) StartSection() error { return nil }

func (s *tsvSink) Append(code []uint64, count uint32) error {
	_, err := fmt.Fprintf(s.fh, "%s\t%d\n", kmer.Decode(code, s.k), count)
	return err
}

func (s *tsvSink) Flush() error { return s.fh.Flush() }

func init() {
	RootCmd.AddCommand(countCmd)

	countCmd.Flags().StringP("out-prefix", "o", "-", `out file prefix ("-" for stdout, which implies --text)`)
	countCmd.Flags().IntP("kmer-len", "k", 0, "k-mer length")
	countCmd.Flags().IntP("min-count", "t", 1, "solidity threshold, only k-mers with count >= this value are output")
	countCmd.Flags().IntP("max-memory", "m", 1000, "memory budget for sorting partitions, in MiB")
	countCmd.Flags().IntP("max-disk", "d", 0, "disk budget per pass for temporary files, in MiB (0 for unbounded)")
	countCmd.Flags().IntP("max-open-files", "F", count.DefaultMaxOpenFiles, "maximum number of simultaneously open partition files")
	countCmd.Flags().StringP("temp-prefix", "p", "tmp.", "prefix of temporary partition files, may contain a directory")
	countCmd.Flags().StringP("histogram", "H", "", "write a count-multiplicity histogram to this file")
	countCmd.Flags().StringP("summary", "s", "", "write a TOML run summary to this file")
	countCmd.Flags().BoolP("text", "", false, "output tab-delimited text instead of the binary format")
	countCmd.Flags().StringP("infile-list", "i", "", "file of input file list (one file per line), overriding positional arguments")
}
