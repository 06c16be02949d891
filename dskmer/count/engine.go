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

package count

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"github.com/ysard/dskmer/dskmer/kmer"
)

// Sink receives the solid k-mers. Records arrive as ascending runs
// ("sections", one per partition), each announced by StartSection;
// the code slice is reused between calls and must not be retained.
// The engine serializes all calls.
type Sink interface {
	StartSection() error
	Append(code []uint64, count uint32) error
	Flush() error
}

// Stats summarizes a finished run.
type Stats struct {
	Volume        uint64 // estimated bytes of k-mer data
	Passes        int
	Partitions    int // per pass
	TotalKmers    uint64
	DistinctKmers uint64
	SolidKmers    uint64
	Elapsed       time.Duration
}

type state uint8

const (
	stateCreated state = iota
	stateConfigured
	stateWriting
	stateReducing
	stateFinalized
	stateFailed
)

// Engine counts canonical k-mers of one width. Construct it with New,
// run it once with Execute; it is not re-entrant. All temporary files
// it creates share the configured prefix and none survives Execute.
type Engine[K kmer.Value[K]] struct {
	opt  *CountingOptions
	bank Bank
	sink Sink
	hist *Histogram

	pl    plan
	st    state
	stats Stats
}

// New validates the configuration, removes stale temporary files left
// behind by an earlier abnormal termination with the same prefix, and
// returns an Engine ready to Execute.
func New[K kmer.Value[K]](opt *CountingOptions, bank Bank, sink Sink) (*Engine[K], error) {
	if bank == nil || sink == nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "nil sequence bank or output sink")
	}
	applyDefaults(opt)
	if err := CheckCountingOptions(opt); err != nil {
		return nil, err
	}
	var zero K
	if kmer.WordsFor(opt.K) > zero.Words() {
		return nil, errors.Wrapf(ErrInvalidConfig, "k=%d does not fit into %d bits", opt.K, zero.Words()*64)
	}

	e := &Engine[K]{opt: opt, bank: bank, sink: sink}
	if opt.HistogramFile != "" {
		e.hist = NewHistogram(maxHistogramCount)
	}
	e.cleanupTemp()
	return e, nil
}

// Stats returns the run summary; valid once Execute has returned.
func (e *Engine[K]) Stats() Stats { return e.stats }

// cleanupTemp removes every partition file matching the configured
// prefix, including sub-partitions from recursive splits.
func (e *Engine[K]) cleanupTemp() {
	paths, err := filepath.Glob(e.opt.TempPrefix + "partition.p*.q*")
	if err != nil {
		return
	}
	for _, p := range paths {
		os.Remove(p)
	}
}

// Execute runs the whole counting: estimate, plan, then for each pass
// fill the partition files and reduce them. On any error all
// temporary files are removed and the engine stays failed.
// Cancellation of ctx is observed at partition boundaries and
// surfaces as ctx.Err().
func (e *Engine[K]) Execute(ctx context.Context) (err error) {
	if e.st != stateCreated {
		return errors.Wrapf(ErrInvalidConfig, "execute is not re-entrant")
	}
	defer func() {
		if err != nil {
			e.st = stateFailed
			e.cleanupTemp()
		}
	}()
	if err = ctx.Err(); err != nil {
		return err
	}
	timeStart := time.Now()

	est, err := e.bank.Estimate()
	if err != nil {
		return errors.Wrapf(err, "estimating sequence volume")
	}
	var zero K
	e.pl, err = computePlan(est, zero.Words()*8, e.opt)
	if err != nil {
		return err
	}
	e.st = stateConfigured
	e.stats = Stats{Volume: e.pl.volume, Passes: e.pl.passes, Partitions: e.pl.partitions}

	ctx2, cancel := context.WithCancel(ctx)
	defer cancel()

	// progress bar over all partition reductions
	var pbs *mpb.Progress
	var bar *mpb.Bar
	var chDuration chan time.Duration
	var doneDuration chan int
	if e.opt.Verbose {
		pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
		bar = pbs.AddBar(int64(e.pl.passes*e.pl.partitions),
			mpb.PrependDecorators(
				decor.Name("reduced partitions: ", decor.WC{W: len("reduced partitions: "), C: decor.DindentRight}),
				decor.Name("", decor.WCSyncSpaceR),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
				decor.EwmaETA(decor.ET_STYLE_GO, 10),
				decor.OnComplete(decor.Name(""), ". done"),
			),
		)
		chDuration = make(chan time.Duration, e.opt.Threads)
		doneDuration = make(chan int)
		go func() {
			for t := range chDuration {
				bar.EwmaIncrBy(1, t)
			}
			doneDuration <- 1
		}()
	}

	done := 0
	for pass := 0; pass < e.pl.passes; pass++ {
		e.st = stateWriting
		if err = e.fillPartitions(ctx2, pass); err != nil {
			break
		}
		e.st = stateReducing
		if err = e.reducePass(ctx2, cancel, pass, &done, chDuration); err != nil {
			break
		}
	}

	if e.opt.Verbose {
		close(chDuration)
		<-doneDuration
		if err != nil {
			bar.Abort(true)
		}
		pbs.Wait()
	}
	if err != nil {
		return err
	}

	if err = e.sink.Flush(); err != nil {
		return errors.Wrapf(err, "flushing solid k-mer sink")
	}
	if e.hist != nil {
		if err = e.hist.WriteFile(e.opt.HistogramFile); err != nil {
			return err
		}
	}
	e.stats.Elapsed = time.Since(timeStart)
	if e.opt.SummaryFile != "" {
		if err = e.writeSummary(e.opt.SummaryFile); err != nil {
			return err
		}
	}
	e.st = stateFinalized
	return nil
}

// fillPartitions scans the whole bank once and spills the canonical
// k-mers belonging to this pass into the bucket files. A single
// producer owns the bucket buffers.
func (e *Engine[K]) fillPartitions(ctx context.Context, pass int) error {
	pw, err := newPartitionWriter[K](e.opt.TempPrefix, pass, e.pl.passes, e.pl.partitions)
	if err != nil {
		return err
	}
	model, err := kmer.NewModel[K](e.opt.K)
	if err != nil {
		pw.discard()
		return errors.Wrapf(ErrInvalidConfig, "%s", err)
	}

	first := pass == 0
	err = e.bank.Iterate(func(seq []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		model.Reset()
		for _, b := range seq {
			x, ok := model.Feed(b)
			if !ok {
				continue
			}
			if first {
				e.stats.TotalKmers++
			}
			if err := pw.Write(x); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		pw.discard()
		return err
	}
	return pw.Close()
}

type partResult[K kmer.Value[K]] struct {
	idx  int
	res  reduceResult[K]
	hist *Histogram
	dur  time.Duration
	err  error
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// reducePass reduces the partitions of one pass on the worker pool.
// Workers finish partitions in any order; the emitter re-orders the
// results by partition index before they reach the sink, so the output
// stream is deterministic.
func (e *Engine[K]) reducePass(ctx context.Context, cancel context.CancelFunc, pass int, done *int, chDuration chan time.Duration) error {
	nParts := e.pl.partitions
	total := e.pl.passes * nParts
	minCount := uint32(e.opt.MinCount)

	ch := make(chan partResult[K], e.opt.Threads)
	doneEmit := make(chan int)
	var firstErr, sinkErr error
	var zero K
	code := make([]uint64, zero.Words())

	go func() {
		pending := make(map[int]partResult[K], e.opt.Threads)
		next := 0
		for pr := range ch {
			if chDuration != nil {
				chDuration <- pr.dur
			}
			*done++
			if e.opt.OnProgress != nil {
				e.opt.OnProgress(*done, total)
			}

			pending[pr.idx] = pr
			for {
				cur, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++

				if cur.err != nil {
					if firstErr == nil || isCancellation(firstErr) && !isCancellation(cur.err) {
						firstErr = cur.err
					}
					cancel()
					continue
				}
				if firstErr != nil || sinkErr != nil {
					continue // draining
				}

				if len(cur.res.recs) > 0 {
					if sinkErr = e.sink.StartSection(); sinkErr != nil {
						cancel()
						continue
					}
				}
				for _, r := range cur.res.recs {
					for i := range code {
						code[i] = r.kmer.Word(i)
					}
					if sinkErr = e.sink.Append(code, r.count); sinkErr != nil {
						cancel()
						break
					}
				}
				if sinkErr != nil {
					continue
				}
				e.stats.SolidKmers += uint64(len(cur.res.recs))
				e.stats.DistinctKmers += cur.res.distinct
				e.hist.Merge(cur.hist)
			}
		}
		doneEmit <- 1
	}()

	var wg sync.WaitGroup
	tokens := make(chan int, e.opt.Threads)
	for q := 0; q < nParts; q++ {
		wg.Add(1)
		tokens <- 1
		go func(q int) {
			defer func() {
				wg.Done()
				<-tokens
			}()
			timeStart := time.Now()
			pr := partResult[K]{idx: q}
			if err := ctx.Err(); err != nil {
				pr.err = err
				ch <- pr
				return
			}
			if e.hist != nil {
				pr.hist = NewHistogram(maxHistogramCount)
			}
			pr.res, pr.err = reducePartition[K](ctx,
				partitionPath(e.opt.TempPrefix, pass, q),
				minCount, e.pl.memPerWorker, pr.hist, 0)
			pr.dur = time.Since(timeStart)
			ch <- pr
		}(q)
	}
	wg.Wait()
	close(ch)
	<-doneEmit

	if sinkErr != nil && (firstErr == nil || isCancellation(firstErr)) {
		firstErr = errors.Wrapf(sinkErr, "appending to solid k-mer sink")
	}
	return firstErr
}

// Summary is the TOML run summary written next to the outputs.
type Summary struct {
	K        int `toml:"k" comment:"Counting parameters"`
	MinCount int `toml:"min-count"`

	Passes      int    `toml:"passes" comment:"Pass plan"`
	Partitions  int    `toml:"partitions"`
	VolumeBytes uint64 `toml:"volume-bytes"`

	TotalKmers     uint64  `toml:"total-kmers" comment:"Results"`
	DistinctKmers  uint64  `toml:"distinct-kmers"`
	SolidKmers     uint64  `toml:"solid-kmers"`
	ElapsedSeconds float64 `toml:"elapsed-seconds"`
}

func (e *Engine[K]) writeSummary(file string) error {
	fh, err := os.Create(file)
	if err != nil {
		return errors.Wrapf(err, "writing summary file")
	}

	data, err := toml.Marshal(&Summary{
		K:              e.opt.K,
		MinCount:       e.opt.MinCount,
		Passes:         e.stats.Passes,
		Partitions:     e.stats.Partitions,
		VolumeBytes:    e.stats.Volume,
		TotalKmers:     e.stats.TotalKmers,
		DistinctKmers:  e.stats.DistinctKmers,
		SolidKmers:     e.stats.SolidKmers,
		ElapsedSeconds: e.stats.Elapsed.Seconds(),
	})
	if err != nil {
		fh.Close()
		return errors.Wrapf(err, "marshaling summary")
	}
	fh.Write(data)

	return fh.Close()
}

// Run counts with the k-mer width selected from opt.K, so callers need
// not instantiate the generic Engine themselves.
func Run(opt *CountingOptions, bank Bank, sink Sink) (*Stats, error) {
	return RunContext(context.Background(), opt, bank, sink)
}

// RunContext is Run with cooperative cancellation.
func RunContext(ctx context.Context, opt *CountingOptions, bank Bank, sink Sink) (*Stats, error) {
	switch kmer.WordsFor(opt.K) {
	case 1:
		return runWidth[kmer.Kmer64](ctx, opt, bank, sink)
	case 2:
		return runWidth[kmer.Kmer128](ctx, opt, bank, sink)
	case 3:
		return runWidth[kmer.Kmer192](ctx, opt, bank, sink)
	case 4:
		return runWidth[kmer.Kmer256](ctx, opt, bank, sink)
	}
	return nil, errors.Wrapf(ErrInvalidConfig, "invalid k value: %d, valid range: [1, %d]", opt.K, kmer.MaxK)
}

func runWidth[K kmer.Value[K]](ctx context.Context, opt *CountingOptions, bank Bank, sink Sink) (*Stats, error) {
	e, err := New[K](opt, bank, sink)
	if err != nil {
		return nil, err
	}
	if err := e.Execute(ctx); err != nil {
		return nil, err
	}
	stats := e.Stats()
	return &stats, nil
}
