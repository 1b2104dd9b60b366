// Package batch runs address lines through the formatter and an optional verifier.
package batch

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/address-cli/internal/fixedwidth"
	"github.com/sells-group/address-cli/internal/model"
	"github.com/sells-group/address-cli/internal/source"
	"github.com/sells-group/address-cli/pkg/geocode"
)

// Verifier decides whether a formatted address is a high-confidence match.
// It must not fail: problems are reported as no match.
type Verifier interface {
	Verify(ctx context.Context, address string) (model.Coordinate, bool)
}

// lookuper is implemented by verifiers that can surface their errors, which
// lets the processor count them separately from rejections.
type lookuper interface {
	Lookup(ctx context.Context, address string) (model.Coordinate, bool, error)
}

// Options configures a Processor.
type Options struct {
	// Concurrency bounds in-flight verifications. Default 8; 1 is sequential.
	Concurrency int

	// Limit stops reading after this many non-blank lines. 0 reads everything.
	Limit int

	// H3Resolution tags verified records with their H3 cell. 0 disables tagging.
	H3Resolution int

	// OnProgress is called after each line is finished. It may be called
	// from several goroutines at once.
	OnProgress func()
}

// Processor formats and verifies address lines.
type Processor struct {
	opts Options
}

// New creates a Processor.
func New(opts Options) *Processor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return &Processor{opts: opts}
}

// slot holds the outcome of one input line. A nil record means the line was dropped.
type slot struct {
	record *model.AddressRecord
}

// Process reads src to the end and returns the records in input order.
// A non-blank line that formats to "" (for example when all its text lies
// past the schema's total width) is counted in Stats.Lines and dropped.
// Without a verifier every non-empty formatted line is kept. With one, only
// accepted lines are kept and carry their coordinate as Encoded. When src
// fails, the records gathered so far are returned with the error.
func (p *Processor) Process(ctx context.Context, src source.LineSource, schema fixedwidth.Schema, verifier Verifier) ([]model.AddressRecord, model.Stats, error) {
	var (
		g        errgroup.Group
		slots    []*slot
		stats    model.Stats
		accepted atomic.Int64
		rejected atomic.Int64
		failures atomic.Int64
		readErr  error
	)
	g.SetLimit(p.opts.Concurrency)

	for p.opts.Limit == 0 || stats.Lines < p.opts.Limit {
		line, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			readErr = eris.Wrap(err, "batch: read source")
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		stats.Lines++
		lineNo := stats.Lines

		formatted := fixedwidth.Format(line, schema)
		if formatted == "" {
			zap.L().Debug("batch: empty record dropped", zap.Int("line", lineNo))
			p.progress()
			continue
		}
		stats.Formatted++

		s := &slot{}
		slots = append(slots, s)

		if verifier == nil {
			s.record = &model.AddressRecord{Line: lineNo, Unencoded: formatted}
			accepted.Add(1)
			p.progress()
			continue
		}

		g.Go(func() error {
			defer p.progress()

			coord, ok, verr := p.verify(ctx, verifier, formatted)
			if verr != nil {
				failures.Add(1)
				zap.L().Warn("batch: verification failed, treating as no match",
					zap.Int("line", lineNo),
					zap.String("address", formatted),
					zap.Error(verr),
				)
			}
			if !ok {
				rejected.Add(1)
				return nil
			}

			rec := &model.AddressRecord{
				Line:       lineNo,
				Unencoded:  formatted,
				Encoded:    coord.String(),
				Coordinate: &coord,
			}
			if p.opts.H3Resolution > 0 {
				cell, cellErr := geocode.Cell(coord, p.opts.H3Resolution)
				if cellErr != nil {
					zap.L().Warn("batch: h3 cell", zap.Int("line", lineNo), zap.Error(cellErr))
				}
				rec.Cell = cell
			}
			zap.L().Debug("batch: accepted",
				zap.Int("line", lineNo),
				zap.String("unencoded", rec.Unencoded),
				zap.String("encoded", rec.Encoded),
			)
			accepted.Add(1)
			s.record = rec
			return nil
		})
	}

	_ = g.Wait()

	stats.Accepted = int(accepted.Load())
	stats.Rejected = int(rejected.Load())
	stats.VerifyErrors = int(failures.Load())

	records := make([]model.AddressRecord, 0, len(slots))
	for _, s := range slots {
		if s.record != nil {
			records = append(records, *s.record)
		}
	}

	zap.L().Info("batch: complete",
		zap.Int("lines", stats.Lines),
		zap.Int("formatted", stats.Formatted),
		zap.Int("accepted", stats.Accepted),
		zap.Int("rejected", stats.Rejected),
		zap.Int("verify_errors", stats.VerifyErrors),
		zap.Bool("partial", readErr != nil),
	)

	return records, stats, readErr
}

// verify calls the verifier, converting a panic into an error so one bad
// line cannot take down the batch.
func (p *Processor) verify(ctx context.Context, v Verifier, address string) (coord model.Coordinate, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			coord, ok = model.Coordinate{}, false
			err = eris.Errorf("batch: verifier panic: %v", r)
		}
	}()

	if l, isLookuper := v.(lookuper); isLookuper {
		return l.Lookup(ctx, address)
	}
	coord, ok = v.Verify(ctx, address)
	return coord, ok, nil
}

func (p *Processor) progress() {
	if p.opts.OnProgress != nil {
		p.opts.OnProgress()
	}
}
