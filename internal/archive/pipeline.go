// Package archive moves aged reservations out of the primary store.
//
// A sweep runs in two phases spread over consecutive cycles.  In the
// first cycle every aged live reservation is copied to the archive and,
// once all copies are attempted, the copied ones are soft-deleted and
// flagged archive-pending.  In a later cycle a reservation that is found
// in the archive is physically removed from the primary store.  Copies
// are idempotent by id, so overlapping or repeated sweeps converge to a
// single archive record per reservation and a record whose copy failed
// simply stays live until the next cycle.
package archive

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

const (
	DefaultInterval = 2 * time.Minute
	DefaultAge      = 30 * 24 * time.Hour
	DefaultBatch    = 500
)

// Source is the primary reservation store as seen by the archiver.
type Source interface {
	ListArchivable(ctx context.Context, before time.Time, after model.Cursor, limit int) ([]*model.Reservation, error)
	MarkArchived(ctx context.Context, ids []string, at time.Time) (int, error)
	Purge(ctx context.Context, id string) error
}

// Store is the archive.  Put must ignore a record whose id is already
// archived.
type Store interface {
	Exists(ctx context.Context, id string) (bool, error)
	Put(ctx context.Context, r *model.Reservation) error
	Get(ctx context.Context, id string) (*model.Reservation, error)
}

// Options tunes a Pipeline.  Zero values fall back to the defaults.
type Options struct {
	Age   time.Duration
	Batch int
	Now   func() time.Time
}

// Report summarizes one sweep.
type Report struct {
	Selected int `json:"selected"`
	Copied   int `json:"copied"`
	Marked   int `json:"marked"`
	Purged   int `json:"purged"`
	Failed   int `json:"failed"`
}

// Pipeline archives reservations older than its age threshold.
type Pipeline struct {
	src  Source
	dst  Store
	opts Options
	log  *logrus.Entry
}

func NewPipeline(src Source, dst Store, opts Options) *Pipeline {
	if opts.Age <= 0 {
		opts.Age = DefaultAge
	}
	if opts.Batch <= 0 {
		opts.Batch = DefaultBatch
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{src: src, dst: dst, opts: opts, log: logrus.WithField("component", "archiver")}
}

// Sweep runs one archive cycle.  It pages through aged records until
// Batch of them have been copied or purged, or the selection runs out, so
// records that keep failing do not hold back newer ones.  Failures on
// individual records are logged and counted; only failures to list or to
// mark the copies abort the cycle.
func (p *Pipeline) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	now := p.opts.Now().UTC()
	cutoff := now.Add(-p.opts.Age)

	var (
		after   model.Cursor
		handled int
		listErr error
		copied  []string
	)
pages:
	for handled < p.opts.Batch && ctx.Err() == nil {
		recs, err := p.src.ListArchivable(ctx, cutoff, after, p.opts.Batch)
		if err != nil {
			listErr = err
			break
		}
		for _, r := range recs {
			if handled >= p.opts.Batch || ctx.Err() != nil {
				break pages
			}
			after = model.CursorAt(r)
			rep.Selected++
			switch p.archive(ctx, r, &rep) {
			case outcomeCopied:
				handled++
				if !r.ArchivePending {
					copied = append(copied, r.ID)
				}
			case outcomePurged:
				handled++
			}
		}
		if len(recs) < p.opts.Batch {
			break
		}
	}

	if len(copied) > 0 {
		n, err := p.src.MarkArchived(ctx, copied, now)
		rep.Marked = n
		if err != nil {
			p.log.WithFields(logrus.Fields(p.fields(rep))).WithError(err).Error("archive sweep aborted")
			return rep, err
		}
	}
	if listErr != nil {
		p.log.WithFields(logrus.Fields(p.fields(rep))).WithError(listErr).Error("archive sweep aborted")
		return rep, listErr
	}
	if rep.Selected > 0 {
		entry := p.log.WithFields(logrus.Fields(p.fields(rep)))
		if rep.Failed > 0 {
			entry.Warn("archive sweep completed with failures")
		} else {
			entry.Info("archive sweep completed")
		}
	}
	return rep, nil
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeCopied
	outcomePurged
)

// archive copies r, or purges it when the archive already holds it.
func (p *Pipeline) archive(ctx context.Context, r *model.Reservation, rep *Report) outcome {
	entry := p.log.WithField("reservation_id", r.ID)
	archived, err := p.dst.Exists(ctx, r.ID)
	if err != nil {
		rep.Failed++
		entry.WithError(err).Error("archive lookup failed")
		return outcomeFailed
	}
	if archived {
		if err := p.src.Purge(ctx, r.ID); err != nil {
			rep.Failed++
			entry.WithError(err).Error("purge failed")
			return outcomeFailed
		}
		rep.Purged++
		return outcomePurged
	}
	if err := p.dst.Put(ctx, r); err != nil {
		rep.Failed++
		entry.WithError(err).Warn("archive copy failed, record stays live")
		return outcomeFailed
	}
	rep.Copied++
	return outcomeCopied
}

func (p *Pipeline) fields(rep Report) map[string]interface{} {
	return map[string]interface{}{
		"selected": rep.Selected,
		"copied":   rep.Copied,
		"marked":   rep.Marked,
		"purged":   rep.Purged,
		"failed":   rep.Failed,
	}
}

// Lookup returns an archived reservation by id.
func (p *Pipeline) Lookup(ctx context.Context, id string) (*model.Reservation, error) {
	return p.dst.Get(ctx, id)
}
