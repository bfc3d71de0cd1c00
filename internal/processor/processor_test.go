package processor_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/backup"
	"github.com/starford/othala/internal/processor"
	"github.com/starford/othala/internal/rules"
	"github.com/starford/othala/internal/testutil"
	"github.com/starford/othala/internal/vault"
)

type stubSource []rules.TagRule

func (s stubSource) Tags() iter.Seq2[string, []rules.Operation] {
	return func(yield func(string, []rules.Operation) bool) {
		for _, r := range s {
			if !yield(r.Tag, r.Ops) {
				return
			}
		}
	}
}

type confirmFunc func(ctx context.Context) (bool, error)

func (f confirmFunc) Confirm(ctx context.Context) (bool, error) { return f(ctx) }

func yes() confirmFunc { return func(context.Context) (bool, error) { return true, nil } }
func no() confirmFunc  { return func(context.Context) (bool, error) { return false, nil } }

func newProcessor(coll *vault.Collection, src processor.RuleSource, confirm processor.Confirmer) (*processor.Processor, *bytes.Buffer) {
	var out bytes.Buffer
	arch := processor.ArchiveFunc(func() (string, error) {
		return backup.Vault(coll.Root())
	})
	return processor.New(coll, src, &out, confirm, arch, testutil.DiscardLogger()), &out
}

func TestRun_RenameEndToEnd(t *testing.T) {
	tagged := "---\nstatus: todo\ntags:\n  - draft\n---\nbody\n"
	untagged := "---\nstatus: todo\n---\nother\n"
	coll, store, _ := testutil.TestCollection(t, map[string]string{
		"tagged.md":   tagged,
		"untagged.md": untagged,
	})

	src := stubSource{{Tag: "draft", Ops: []rules.Operation{
		{Action: rules.ActionRename, Old: "status", New: "state"},
	}}}
	p, out := newProcessor(coll, src, yes())

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := store.Read("tagged.md")
	if !strings.Contains(string(got), "state: todo") || strings.Contains(string(got), "status:") {
		t.Errorf("tagged.md = %q", got)
	}
	if !strings.Contains(string(got), "- draft") {
		t.Errorf("tags lost: %q", got)
	}

	got, _ = store.Read("untagged.md")
	if string(got) != untagged {
		t.Errorf("untagged.md modified: %q", got)
	}

	if !strings.Contains(out.String(), "Summary for File: tagged.md") {
		t.Errorf("summary missing: %s", out.String())
	}
	if strings.Contains(out.String(), "untagged.md") {
		t.Errorf("untagged document summarized: %s", out.String())
	}

	// Backup archive holds the pre-run state of both documents.
	archivePath := filepath.Join(filepath.Dir(coll.Root()), coll.Name()+"_backup.zip")
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer zr.Close()
	want := map[string]string{"tagged.md": tagged, "untagged.md": untagged}
	for _, f := range zr.File {
		rc, _ := f.Open()
		data, _ := io.ReadAll(rc)
		rc.Close()
		if want[f.Name] != string(data) {
			t.Errorf("backup[%s] = %q, want pre-run content", f.Name, data)
		}
		delete(want, f.Name)
	}
	if len(want) != 0 {
		t.Errorf("backup missing entries: %v", want)
	}
}

func TestRun_CancellationLeavesEverythingUntouched(t *testing.T) {
	content := "---\nstatus: todo\ntags: [draft]\n---\nbody\n"
	coll, store, _ := testutil.TestCollection(t, map[string]string{"a.md": content})

	src := stubSource{{Tag: "draft", Ops: []rules.Operation{
		{Action: rules.ActionRename, Old: "status", New: "state"},
	}}}
	p, _ := newProcessor(coll, src, no())

	err := p.Run(context.Background())
	if !errors.Is(err, apperr.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}

	got, _ := store.Read("a.md")
	if string(got) != content {
		t.Errorf("a.md modified after cancel: %q", got)
	}
	archivePath := filepath.Join(filepath.Dir(coll.Root()), coll.Name()+"_backup.zip")
	if _, err := os.Stat(archivePath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("backup exists after cancel: %v", err)
	}
}

func TestRun_ContextCancellationAtGate(t *testing.T) {
	coll, _, _ := testutil.TestCollection(t, map[string]string{
		"a.md": "---\ntags: [draft]\n---\nbody\n",
	})
	src := stubSource{{Tag: "draft", Ops: []rules.Operation{
		{Action: rules.ActionAdd, New: "state"},
	}}}

	gate := confirmFunc(func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})
	p, _ := newProcessor(coll, src, gate)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Run(ctx); !errors.Is(err, apperr.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

func TestRun_BackupFailureBlocksPersistence(t *testing.T) {
	content := "---\nstatus: todo\ntags: [draft]\n---\nbody\n"
	coll, store, _ := testutil.TestCollection(t, map[string]string{"a.md": content})

	src := stubSource{{Tag: "draft", Ops: []rules.Operation{
		{Action: rules.ActionRename, Old: "status", New: "state"},
	}}}
	var out bytes.Buffer
	failing := processor.ArchiveFunc(func() (string, error) {
		return "", errors.New("disk full")
	})
	p := processor.New(coll, src, &out, yes(), failing, testutil.DiscardLogger())

	err := p.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "backup") {
		t.Fatalf("err = %v, want backup failure", err)
	}

	got, _ := store.Read("a.md")
	if string(got) != content {
		t.Errorf("a.md persisted despite backup failure: %q", got)
	}
}

func TestPlan_AddIsIdempotentWithinARule(t *testing.T) {
	coll, _, _ := testutil.TestCollection(t, map[string]string{
		"a.md": "---\ntags: [draft]\n---\nbody\n",
	})
	op := rules.Operation{Action: rules.ActionAdd, New: "state", Default: "x"}
	src := stubSource{{Tag: "draft", Ops: []rules.Operation{op, op}}}
	p, _ := newProcessor(coll, src, yes())

	session, err := p.Plan()
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(session) != 1 {
		t.Fatalf("len(session) = %d, want 1", len(session))
	}
	tr := session[0]
	if len(tr.Changes()) != 1 {
		t.Errorf("changes = %+v, want exactly one", tr.Changes())
	}
	c := tr.Changes()[0]
	if c.Action != "add" || c.NewProperty != "state" || c.NewValue != "x" {
		t.Errorf("change = %+v", c)
	}
	if len(tr.Logs()) != 1 || !strings.Contains(tr.Logs()[0], "already exists") {
		t.Errorf("logs = %v, want single 'already exists'", tr.Logs())
	}
	if coll.Get("a.md").Get("state") != "x" {
		t.Errorf("state = %v", coll.Get("a.md").Get("state"))
	}
}

func TestPlan_AddWithoutDefaultUsesEmptyValue(t *testing.T) {
	coll, _, _ := testutil.TestCollection(t, map[string]string{
		"a.md": "---\ntags: [draft]\n---\nbody\n",
	})
	src := stubSource{{Tag: "draft", Ops: []rules.Operation{
		{Action: rules.ActionAdd, New: "state"},
	}}}
	p, _ := newProcessor(coll, src, yes())

	session, err := p.Plan()
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if got := coll.Get("a.md").Get("state"); got != "" {
		t.Errorf("state = %v, want empty string", got)
	}
	if c := session[0].Changes()[0]; c.NewValue != "" {
		t.Errorf("change value = %v, want empty string", c.NewValue)
	}
}

func TestPlan_RemoveMissingPropertyLogsOnly(t *testing.T) {
	content := "---\ntags: [draft]\n---\nbody\n"
	coll, _, _ := testutil.TestCollection(t, map[string]string{"a.md": content})
	src := stubSource{{Tag: "draft", Ops: []rules.Operation{
		{Action: rules.ActionRemove, Old: "nope"},
	}}}
	p, _ := newProcessor(coll, src, yes())

	session, err := p.Plan()
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	tr := session[0]
	if len(tr.Changes()) != 0 {
		t.Errorf("changes = %+v, want none", tr.Changes())
	}
	if len(tr.Logs()) != 1 || !strings.Contains(tr.Logs()[0], "not found") {
		t.Errorf("logs = %v", tr.Logs())
	}
	if coll.Get("a.md").Dirty() {
		t.Error("document dirty after skipped remove")
	}
}

func TestPlan_LaterOpsSeeEarlierEffects(t *testing.T) {
	coll, _, _ := testutil.TestCollection(t, map[string]string{
		"a.md": "---\ntags: [draft]\n---\nbody\n",
	})
	src := stubSource{{Tag: "draft", Ops: []rules.Operation{
		{Action: rules.ActionAdd, New: "phase", Default: "one"},
		{Action: rules.ActionRename, Old: "phase", New: "stage"},
	}}}
	p, _ := newProcessor(coll, src, yes())

	session, err := p.Plan()
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	doc := coll.Get("a.md")
	if doc.Has("phase") || doc.Get("stage") != "one" {
		t.Errorf("frontmatter = %v", doc.Frontmatter)
	}
	tr := session[0]
	if len(tr.Changes()) != 2 || tr.Changes()[1].Action != "rename" {
		t.Errorf("changes = %+v", tr.Changes())
	}
	// Snapshots differ exactly in the added key.
	if _, ok := tr.OldFrontmatter()["stage"]; ok {
		t.Error("old snapshot already has stage")
	}
	if tr.NewFrontmatter()["stage"] != "one" {
		t.Errorf("new snapshot = %v", tr.NewFrontmatter())
	}
}

func TestPlan_RenameOverwritesExistingTarget(t *testing.T) {
	coll, _, _ := testutil.TestCollection(t, map[string]string{
		"a.md": "---\nstatus: todo\nstate: stale\ntags: [draft]\n---\nbody\n",
	})
	src := stubSource{{Tag: "draft", Ops: []rules.Operation{
		{Action: rules.ActionRename, Old: "status", New: "state"},
	}}}
	p, _ := newProcessor(coll, src, yes())

	session, err := p.Plan()
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if got := coll.Get("a.md").Get("state"); got != "todo" {
		t.Errorf("state = %v, want todo (silent overwrite)", got)
	}
	if len(session[0].Logs()) != 0 {
		t.Errorf("unexpected logs: %v", session[0].Logs())
	}
}

func TestPlan_SkipsEmptyTagAndEmptyOps(t *testing.T) {
	coll, _, _ := testutil.TestCollection(t, map[string]string{
		"a.md": "---\ntags: [draft]\n---\nbody\n",
	})
	src := stubSource{
		{Tag: "", Ops: []rules.Operation{{Action: rules.ActionRemove, Old: "x"}}},
		{Tag: "draft", Ops: nil},
	}
	p, _ := newProcessor(coll, src, yes())

	session, err := p.Plan()
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(session) != 0 {
		t.Errorf("session = %v, want empty", session)
	}
}

func TestPlan_DocumentMatchingTwoRulesGetsTwoTrackers(t *testing.T) {
	coll, _, _ := testutil.TestCollection(t, map[string]string{
		"a.md": "---\nstatus: todo\ndue: friday\ntags:\n  - draft\n  - work\n---\nbody\n",
	})
	src := stubSource{
		{Tag: "draft", Ops: []rules.Operation{{Action: rules.ActionRename, Old: "status", New: "state"}}},
		{Tag: "work", Ops: []rules.Operation{{Action: rules.ActionRemove, Old: "due"}}},
	}
	p, _ := newProcessor(coll, src, yes())

	session, err := p.Plan()
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(session) != 2 {
		t.Fatalf("len(session) = %d, want 2", len(session))
	}
	// Second tracker's old snapshot reflects the first rule's mutation.
	if _, ok := session[1].OldFrontmatter()["state"]; !ok {
		t.Errorf("second tracker old snapshot = %v", session[1].OldFrontmatter())
	}
	doc := coll.Get("a.md")
	if doc.Has("status") || doc.Has("due") || doc.Get("state") != "todo" {
		t.Errorf("frontmatter = %v", doc.Frontmatter)
	}
}

func TestRun_WithRulesFile(t *testing.T) {
	coll, store, _ := testutil.TestCollection(t, map[string]string{
		"a.md": "---\nstatus: todo\ntags: [draft]\n---\nbody\n",
	})

	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	content := "tags:\n  - tag: draft\n    properties:\n      - action: rename\n        old: status\n        new: state\n"
	if err := os.WriteFile(rulesPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := rules.Load(rulesPath, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	p, _ := newProcessor(coll, src, yes())
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, _ := store.Read("a.md")
	if !strings.Contains(string(got), "state: todo") {
		t.Errorf("a.md = %q", got)
	}
}
