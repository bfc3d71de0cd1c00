// Package processor orchestrates a batch run: iterate the validated rules,
// select matching documents, apply property operations in order, then present
// the accumulated change logs, wait for confirmation, back the vault up, and
// persist. Backup always completes before any mutation reaches disk.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/rules"
	"github.com/starford/othala/internal/tracker"
	"github.com/starford/othala/internal/vault"
)

// RuleSource yields validated (tag, operations) pairs in configuration order.
type RuleSource interface {
	Tags() iter.Seq2[string, []rules.Operation]
}

// Confirmer resolves the confirmation gate: proceed or cancel. It blocks
// until the operator answers or ctx is cancelled.
type Confirmer interface {
	Confirm(ctx context.Context) (bool, error)
}

// Archiver snapshots the vault's on-disk state and returns the archive path.
type Archiver interface {
	Archive() (string, error)
}

// ArchiveFunc adapts a function to the Archiver interface.
type ArchiveFunc func() (string, error)

func (f ArchiveFunc) Archive() (string, error) { return f() }

// Session is the ordered sequence of per-document change logs produced by one
// run. A document matched by several rules contributes one tracker per match.
type Session []*tracker.Tracker

// Summaries renders every tracker's summary in processing order.
func (s Session) Summaries() string {
	var out string
	for _, tr := range s {
		out += tr.Summary()
	}
	return out
}

// Processor runs property operations over a loaded document collection.
type Processor struct {
	coll     *vault.Collection
	source   RuleSource
	out      io.Writer
	confirm  Confirmer
	archiver Archiver
	logger   *slog.Logger
}

// New creates a processor. out receives the summaries; confirm and archiver
// gate and precede persistence.
func New(coll *vault.Collection, source RuleSource, out io.Writer, confirm Confirmer, archiver Archiver, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		coll:     coll,
		source:   source,
		out:      out,
		confirm:  confirm,
		archiver: archiver,
		logger:   logger,
	}
}

// Plan applies every rule to the in-memory collection and returns the
// session. Nothing touches disk: all mutation lives in the collection's
// document state until Commit persists it.
func (p *Processor) Plan() (Session, error) {
	var session Session

	for tag, ops := range p.source.Tags() {
		if tag == "" || len(ops) == 0 {
			continue
		}

		docs, err := p.coll.Select(tag)
		if err != nil {
			return nil, fmt.Errorf("processor: select tag %q: %w", tag, err)
		}
		if len(docs) == 0 {
			p.logger.Debug("no documents match tag", slog.String("tag", tag))
			continue
		}

		for _, doc := range docs {
			tr := tracker.New(doc.Path)
			tr.SetOldFrontmatter(doc.Frontmatter)

			// Operations run sequentially against the same document, so a
			// later operation observes the effects of earlier ones.
			for _, op := range ops {
				applyOp(doc, op, tr)
			}

			tr.SetNewFrontmatter(doc.Frontmatter)
			session = append(session, tr)
		}
	}

	return session, nil
}

// Commit presents the session, waits for confirmation, backs up the vault,
// and persists the pending mutations. Declining or a cancellation signal
// returns apperr.ErrCancelled with nothing written; a backup failure aborts
// before any document is persisted.
func (p *Processor) Commit(ctx context.Context, session Session) error {
	for _, tr := range session {
		if _, err := io.WriteString(p.out, tr.Summary()); err != nil {
			return fmt.Errorf("processor: write summary: %w", err)
		}
	}

	ok, err := p.confirm.Confirm(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return apperr.ErrCancelled
		}
		return fmt.Errorf("processor: confirm: %w", err)
	}
	if !ok {
		return apperr.ErrCancelled
	}

	archivePath, err := p.archiver.Archive()
	if err != nil {
		return fmt.Errorf("processor: backup: %w", err)
	}
	p.logger.Info("backup created", slog.String("path", archivePath))

	if err := p.coll.UpdateContent(); err != nil {
		return fmt.Errorf("processor: update content: %w", err)
	}
	if err := p.coll.Persist(); err != nil {
		return fmt.Errorf("processor: persist: %w", err)
	}

	p.logger.Info("changes saved", slog.Int("documents", len(session)))
	return nil
}

// Run is Plan followed by Commit.
func (p *Processor) Run(ctx context.Context) error {
	session, err := p.Plan()
	if err != nil {
		return err
	}
	return p.Commit(ctx, session)
}

// applyOp applies one operation to the document's live metadata, recording
// the effect (or the reason it was skipped) on the tracker.
func applyOp(doc *vault.Document, op rules.Operation, tr *tracker.Tracker) {
	switch op.Action {
	case rules.ActionAdd:
		if doc.Has(op.New) {
			tr.AddLog(fmt.Sprintf("property '%s' already exists", op.New))
			return
		}
		value := op.Default
		if value == nil {
			value = ""
		}
		doc.Set(op.New, value)
		tr.AddChange(tracker.Change{
			Action:      string(op.Action),
			NewProperty: op.New,
			NewValue:    value,
		})

	case rules.ActionRename:
		if !doc.Has(op.Old) {
			tr.AddLog(fmt.Sprintf("property '%s' not found", op.Old))
			return
		}
		// An existing value under the new name is overwritten silently.
		value := doc.Get(op.Old)
		doc.Set(op.New, value)
		doc.Remove(op.Old)
		tr.AddChange(tracker.Change{
			Action:      string(op.Action),
			OldProperty: op.Old,
			NewProperty: op.New,
			OldValue:    value,
			NewValue:    value,
		})

	case rules.ActionRemove:
		if !doc.Has(op.Old) {
			tr.AddLog(fmt.Sprintf("property '%s' not found", op.Old))
			return
		}
		doc.Remove(op.Old)
		tr.AddChange(tracker.Change{
			Action:      string(op.Action),
			OldProperty: op.Old,
		})
	}
}
