// Package compact bounds the size of the context log.
//
// Compaction keeps only records that mention critical installation commands,
// most recent last, behind a single system summary record.
package compact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log"
	"time"

	"gptterm/internal/classify"
	"gptterm/internal/store"
)

// Default thresholds.
const (
	DefaultEvictionThreshold = 25
	DefaultMaxCritical       = 20
	DefaultRetainCount       = 15
)

// tokensPerRecord is the rough token cost attributed to one dropped record.
const tokensPerRecord = 4

// ErrInvalidThresholds is returned by New for inconsistent limits.
var ErrInvalidThresholds = errors.New("invalid compaction thresholds")

// Thresholds configures when and how much to compact.
type Thresholds struct {
	// EvictionThreshold is the record count above which MaybeCompact runs.
	EvictionThreshold int
	// MaxCritical caps how many critical records are collected per pass.
	MaxCritical int
	// RetainCount is how many of the collected records survive.
	RetainCount int
}

// DefaultThresholds returns 25/20/15.
func DefaultThresholds() Thresholds {
	return Thresholds{
		EvictionThreshold: DefaultEvictionThreshold,
		MaxCritical:       DefaultMaxCritical,
		RetainCount:       DefaultRetainCount,
	}
}

// Validate checks the limits are positive and consistent.
func (t Thresholds) Validate() error {
	if t.EvictionThreshold <= 0 || t.MaxCritical <= 0 || t.RetainCount <= 0 {
		return fmt.Errorf("%w: all limits must be positive", ErrInvalidThresholds)
	}
	if t.RetainCount > t.MaxCritical {
		return fmt.Errorf("%w: retain_count (%d) exceeds max_critical (%d)", ErrInvalidThresholds, t.RetainCount, t.MaxCritical)
	}
	return nil
}

// Log is the part of the context store the compactor needs. Rewrite must
// keep other writers out between reading the records and swapping them.
type Log interface {
	Rewrite(fn func(lines int, entries iter.Seq2[store.Entry, error]) ([]store.Entry, error)) error
}

// Result describes one compaction pass.
type Result struct {
	Compacted   bool
	Before      int
	After       int
	Collected   int
	Retained    int
	TokensSaved int
	Duration    time.Duration
}

// Compactor applies the retention policy to a Log.
type Compactor struct {
	log        Log
	classifier *classify.Classifier
	thresholds Thresholds
	logger     *log.Logger
}

// New builds a compactor. A nil classifier uses the built-in rules.
func New(l Log, classifier *classify.Classifier, thresholds Thresholds, logger *log.Logger) (*Compactor, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	if classifier == nil {
		classifier = classify.New(nil)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Compactor{log: l, classifier: classifier, thresholds: thresholds, logger: logger}, nil
}

// Thresholds returns the configured limits.
func (c *Compactor) Thresholds() Thresholds { return c.thresholds }

// MaybeCompact compacts only when the log holds more than EvictionThreshold
// records. Result.Compacted reports whether a pass ran.
func (c *Compactor) MaybeCompact(ctx context.Context) (Result, error) {
	return c.run(ctx, true)
}

// Compact runs a pass regardless of the current size.
func (c *Compactor) Compact(ctx context.Context) (Result, error) {
	return c.run(ctx, false)
}

func (c *Compactor) run(ctx context.Context, onlyAboveThreshold bool) (Result, error) {
	start := time.Now()
	var res Result
	err := c.log.Rewrite(func(before int, entries iter.Seq2[store.Entry, error]) ([]store.Entry, error) {
		res = Result{Before: before, After: before}
		if onlyAboveThreshold && before <= c.thresholds.EvictionThreshold {
			return nil, nil
		}
		next, collected, err := c.plan(ctx, before, entries)
		if err != nil {
			return nil, err
		}
		res = Result{
			Compacted: true,
			Before:    before,
			After:     len(next),
			Collected: collected,
			Retained:  len(next) - 1,
		}
		return next, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrStoreUnavailable) {
			return Result{}, fmt.Errorf("compact: %w", err)
		}
		return Result{}, err
	}
	if !res.Compacted {
		return res, nil
	}

	res.TokensSaved = max((res.Before-res.Collected)*tokensPerRecord, 0)
	res.Duration = time.Since(start)
	c.logger.Printf("compact: %d -> %d records (critical collected=%d retained=%d, ~%d tokens saved)",
		res.Before, res.After, res.Collected, res.Retained, res.TokensSaved)
	return res, nil
}

// plan collects the first MaxCritical critical records, keeps the last
// RetainCount of them and puts the summary record in front.
func (c *Compactor) plan(ctx context.Context, before int, entries iter.Seq2[store.Entry, error]) ([]store.Entry, int, error) {
	collected := make([]store.Entry, 0, c.thresholds.MaxCritical)
	for entry, err := range entries {
		if err != nil {
			return nil, 0, err
		}
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		if c.classifier.IsCritical(entry.Content) {
			collected = append(collected, entry)
			if len(collected) >= c.thresholds.MaxCritical {
				break
			}
		}
	}

	kept := collected
	if len(kept) > c.thresholds.RetainCount {
		kept = kept[len(kept)-c.thresholds.RetainCount:]
	}
	after := len(kept) + 1

	next := make([]store.Entry, 0, after)
	next = append(next, store.Entry{Role: store.RoleSystem, Content: Summary(len(collected), before, after)})
	next = append(next, kept...)
	return next, len(collected), nil
}

// Summary is the content of the system record written at the head of a
// compacted log.
func Summary(critical, before, after int) string {
	return fmt.Sprintf("[ARCH INSTALL] Installation session in progress. Critical commands executed: %d. Context compacted from %d to %d records.",
		critical, before, after)
}
