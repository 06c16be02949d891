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

	"github.com/shenwei356/xopen"
	"github.com/spf13/cobra"
	"github.com/ysard/dskmer/dskmer/kmer"
	"github.com/ysard/dskmer/dskmer/solid"
)

// grepCmd represents
var grepCmd = &cobra.Command{
	Use:   "grep <file.dsks> <kmer> [<kmer>...]",
	Short: "look up the counts of k-mers in a binary solid k-mer file",
	Long: `look up the counts of k-mers in a binary solid k-mer file

Queries are matched against the canonical form, so a k-mer and its
reverse complement are equivalent. Lookups use the anchor index
written along with the data file and only need a few reads per query,
therefore only files with k <= 32 are supported.

`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) < 2 {
			checkError(fmt.Errorf("a solid k-mer file and at least one query k-mer are needed"))
		}
		file := args[0]
		queries := args[1:]
		checkError(checkFiles(file))

		outFile := getFlagString(cmd, "out-file")
		outfh, err := xopen.Wopen(outFile)
		checkError(err)
		defer func() {
			outfh.Flush()
			outfh.Close()
		}()

		scr, err := solid.NewSearcher(file)
		checkError(err)
		defer scr.Close()

		for _, query := range queries {
			if len(query) != scr.K {
				checkError(fmt.Errorf("query length %d does not match k=%d: %s", len(query), scr.K, query))
			}
			code, err := kmer.EncodeCanonical([]byte(query))
			checkError(err)

			count, found, err := scr.Search(code)
			checkError(err)
			if !found {
				fmt.Fprintf(outfh, "%s\t0\n", query)
				continue
			}
			fmt.Fprintf(outfh, "%s\t%d\n", query, count)
		}
	},
}

func init() {
	RootCmd.AddCommand(grepCmd)

	grepCmd.Flags().StringP("out-file", "o", "-", `out file ("-" for stdout)`)
}
