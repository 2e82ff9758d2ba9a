// Package saver writes dirty world state to a persistence backend in the
// background, outside every store lock.
package saver

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"pixelcanvas.io/internal/sim/chunk"
	"pixelcanvas.io/internal/sim/chunkstore"
	"pixelcanvas.io/internal/sim/overlay"
	"pixelcanvas.io/internal/sim/tuning"
)

const finalFlushTimeout = 10 * time.Second

type Backend interface {
	SaveChunks(ctx context.Context, world string, recs []chunkstore.Record) error
	AppendLines(ctx context.Context, world string, lines []overlay.Line) error
	SaveTexts(ctx context.Context, world string, texts []overlay.Text) error
}

type Options struct {
	World    string
	Store    *chunkstore.Store
	Overlay  *overlay.Store
	Backend  Backend
	Saving   tuning.Saving
	Interval time.Duration
	Logger   *log.Logger
	// OnError is called once per failed flush.
	OnError func(error)
}

type Saver struct {
	opts  Options
	flush chan chan error

	saves  atomic.Uint64
	errors atomic.Uint64
}

func New(opts Options) *Saver {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	return &Saver{opts: opts, flush: make(chan chan error)}
}

// Run flushes every interval until ctx ends, then flushes once more.
func (s *Saver) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			_ = s.Flush(fctx)
			cancel()
			return
		case ack := <-s.flush:
			ack <- s.Flush(ctx)
		case <-ticker.C:
			_ = s.Flush(ctx)
		}
	}
}

// FlushNow asks a running saver to flush and waits for the result.
func (s *Saver) FlushNow(ctx context.Context) error {
	ack := make(chan error, 1)
	select {
	case s.flush <- ack:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush saves everything pending. Failed parts are re-queued and retried on
// the next flush.
func (s *Saver) Flush(ctx context.Context) error {
	var errs []error
	if s.opts.Saving.Pixels && s.opts.Store != nil {
		if recs := s.opts.Store.DrainDirty(); len(recs) > 0 {
			if err := s.opts.Backend.SaveChunks(ctx, s.opts.World, recs); err != nil {
				keys := make([]chunk.Key, len(recs))
				for i, r := range recs {
					keys[i] = r.Key
				}
				s.opts.Store.MarkDirty(keys...)
				errs = append(errs, err)
			}
		}
	}
	if s.opts.Saving.Lines && s.opts.Overlay != nil {
		if lines, upto := s.opts.Overlay.PendingLines(); len(lines) > 0 {
			if err := s.opts.Backend.AppendLines(ctx, s.opts.World, lines); err != nil {
				errs = append(errs, err)
			} else {
				s.opts.Overlay.CommitLines(upto)
			}
		}
	}
	if s.opts.Saving.Texts && s.opts.Overlay != nil {
		if texts := s.opts.Overlay.DrainDirtyTexts(); len(texts) > 0 {
			if err := s.opts.Backend.SaveTexts(ctx, s.opts.World, texts); err != nil {
				points := make([]overlay.Point, len(texts))
				for i, t := range texts {
					points[i] = t.At
				}
				s.opts.Overlay.MarkTextsDirty(points...)
				errs = append(errs, err)
			}
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		s.errors.Add(1)
		if s.opts.Logger != nil {
			s.opts.Logger.Printf("persist save world=%s err=%v (keeping state in memory)", s.opts.World, err)
		}
		if s.opts.OnError != nil {
			s.opts.OnError(err)
		}
		return err
	}
	s.saves.Add(1)
	return nil
}

type Stats struct {
	Saves  uint64
	Errors uint64
}

func (s *Saver) Stats() Stats {
	return Stats{Saves: s.saves.Load(), Errors: s.errors.Load()}
}
