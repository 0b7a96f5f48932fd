package sync

import (
	"context"
	"fmt"
	"strings"
	gosync "sync"

	"github.com/samber/lo"
	"github.com/spf13/afero"
)

// VersionFeed supplies the raw version tokens announced by the game server.
type VersionFeed interface {
	Tokens(ctx context.Context) ([]string, error)
}

// StaticFeed is a fixed token list.
type StaticFeed []string

// Tokens returns the list itself.
func (f StaticFeed) Tokens(context.Context) ([]string, error) { return f, nil }

// FileFeed reads whitespace-separated tokens from a file, typically written
// by a separate gate client.
type FileFeed struct {
	Fs   afero.Fs
	Path string
}

// Tokens reads the file.
func (f FileFeed) Tokens(context.Context) ([]string, error) {
	data, err := afero.ReadFile(f.Fs, f.Path)
	if err != nil {
		return nil, fmt.Errorf("read version feed: %w", err)
	}
	return strings.Fields(string(data)), nil
}

// RunOptions select what a Runner does with each announced version.
type RunOptions struct {
	// Types limits the run to these version types; empty runs every type
	// the feed announces.
	Types []VersionType
	// Repair resumes interrupted updates with a hashfile repair instead of
	// a normal update.
	Repair bool
	Update UpdateOptions
}

// Runner drives one pass per announced version type.
type Runner struct {
	updater  *Updater
	repairer *Repairer
	feed     VersionFeed
	opts     RunOptions

	mu      gosync.Mutex
	pending map[string]VersionResult // watch mode: latest token per type name
}

// NewRunner creates a Runner.
func NewRunner(u *Updater, r *Repairer, feed VersionFeed, opts RunOptions) *Runner {
	return &Runner{updater: u, repairer: r, feed: feed, opts: opts, pending: make(map[string]VersionResult)}
}

// Run reads the feed once and runs a pass for every selected version type in
// table order. A failing type does not stop the others; its error is in its
// report. The returned error is set only when the feed cannot be read.
func (r *Runner) Run(ctx context.Context) ([]*PassReport, error) {
	versions, err := r.readFeed(ctx)
	if err != nil {
		return nil, err
	}
	return r.runBatch(ctx, versions), nil
}

// readFeed returns the selected tokens in version-type table order, the
// last token winning when a type is announced twice.
func (r *Runner) readFeed(ctx context.Context) ([]VersionResult, error) {
	l := sub("runner")
	tokens, err := r.feed.Tokens(ctx)
	if err != nil {
		return nil, err
	}
	parsed, err := ParseVersionTokens(tokens)
	if err != nil {
		l.Warn("some version tokens skipped", "err", err)
	}

	latest := lo.SliceToMap(parsed, func(vr VersionResult) (VersionType, VersionResult) { return vr.Type, vr })
	var out []VersionResult
	for _, vt := range VersionTypes {
		vr, ok := latest[vt]
		if !ok || (len(r.opts.Types) > 0 && !lo.Contains(r.opts.Types, vt)) {
			continue
		}
		out = append(out, vr)
	}
	l.Info("version feed read", "tokens", len(tokens), "selected", len(out))
	return out, nil
}

func (r *Runner) runBatch(ctx context.Context, versions []VersionResult) []*PassReport {
	l := sub("runner")
	reports := make([]*PassReport, 0, len(versions))
	for _, vr := range versions {
		if ctx.Err() != nil {
			l.Info("run cancelled", "remaining", len(versions)-len(reports))
			break
		}
		var (
			report *PassReport
			err    error
		)
		if r.opts.Repair {
			report, err = r.repairer.RepairHashfile(ctx, vr)
		} else {
			report, err = r.updater.Update(ctx, vr, r.opts.Update)
		}
		if err != nil {
			l.Error("pass failed", "type", vr.Type.Name, "version", vr.Version, "err", err)
		}
		reports = append(reports, report)
	}
	r.linkRelease(reports)
	return reports
}

// linkRelease records, on the AZL difflog written in this run, the other
// version types that wrote a difflog alongside it.
func (r *Runner) linkRelease(reports []*PassReport) {
	azl, ok := lo.Find(reports, func(p *PassReport) bool {
		return p.Type == VersionAZL && p.DiffLogWritten
	})
	if !ok {
		return
	}
	links := lo.FilterMap(reports, func(p *PassReport, _ int) (LinkedVersion, bool) {
		return LinkedVersion{Type: p.Type.String(), Version: p.Version}, p.Type != VersionAZL && p.DiffLogWritten
	})
	if len(links) == 0 {
		return
	}
	if err := r.updater.store.LinkVersions(VersionAZL, azl.Version, links); err != nil {
		sub("runner").Warn("link versions failed", "version", azl.Version, "err", err)
	}
}

// Watch runs a first batch from the feed, then runs a batch whenever the
// feed file at feedPath changes, until ctx is cancelled. Types announced
// again before their pass starts are coalesced. onBatch, when set, receives
// the reports of every batch.
func (r *Runner) Watch(ctx context.Context, feedPath string, onBatch func([]*PassReport)) error {
	l := sub("runner")
	queue := NewPassQueue()

	enqueue := func() {
		versions, err := r.readFeed(ctx)
		if err != nil {
			l.Error("version feed unreadable", "err", err)
			return
		}
		r.mu.Lock()
		for _, vr := range versions {
			r.pending[vr.Type.Name] = vr
		}
		r.mu.Unlock()
		queue.PushMany(lo.Map(versions, func(vr VersionResult, _ int) string { return vr.Type.Name }))
	}

	watcher, err := NewFeedWatcher(feedPath, enqueue)
	if err != nil {
		return fmt.Errorf("watch version feed: %w", err)
	}
	defer watcher.Close()
	go func() {
		if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
			l.Warn("watcher stopped unexpectedly", "err", err)
		}
	}()

	enqueue()
	l.Info("worker loop started")
	done := ctx.Done()
	for {
		first, ok := queue.Pop(done)
		if !ok {
			l.Info("worker stopping, context cancelled")
			return nil
		}
		names := append([]string{first}, queue.Drain()...)
		batch := r.takePending(names)
		reports := r.runBatch(ctx, batch)
		if onBatch != nil {
			onBatch(reports)
		}
	}
}

// takePending removes the pending tokens for names and returns them in
// table order.
func (r *Runner) takePending(names []string) []VersionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []VersionResult
	for _, vt := range VersionTypes {
		if !lo.Contains(names, vt.Name) {
			continue
		}
		if vr, ok := r.pending[vt.Name]; ok {
			out = append(out, vr)
			delete(r.pending, vt.Name)
		}
	}
	return out
}
