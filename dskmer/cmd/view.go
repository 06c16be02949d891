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
	"io"
	"os"

	"github.com/shenwei356/xopen"
	"github.com/spf13/cobra"
	"github.com/ysard/dskmer/dskmer/kmer"
	"github.com/ysard/dskmer/dskmer/solid"
)

// viewCmd represents
var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "read and output binary solid k-mer files to plain text",
	Long: `read and output binary solid k-mer files to plain text

`,
	Run: func(cmd *cobra.Command, args []string) {
		files := getFileList(args)
		if len(files) == 0 {
			checkError(fmt.Errorf("no input files given"))
		}
		checkError(checkFiles(files...))

		outFile := getFlagString(cmd, "out-file")
		outfh, err := xopen.Wopen(outFile)
		checkError(err)
		defer func() {
			outfh.Flush()
			outfh.Close()
		}()

		for _, file := range files {
			fh, err := os.Open(file)
			checkError(err)

			reader, err := solid.NewReader(fh)
			checkError(err)

			for {
				code, count, err := reader.Read()
				if err != nil {
					if err == io.EOF {
						break
					}
					checkError(err)
				}
				fmt.Fprintf(outfh, "%s\t%d\n", kmer.Decode(code, reader.K), count)
			}
			checkError(fh.Close())
		}
	},
}

func init() {
	RootCmd.AddCommand(viewCmd)

	viewCmd.Flags().StringP("out-file", "o", "-", `out file ("-" for stdout)`)
}
