// Package rules loads and validates the declarative rules file that maps
// vault tags to ordered property operations. Malformed entries are dropped
// with a diagnostic; they never fail the whole file.
package rules

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Action is the closed set of property operations.
type Action string

const (
	ActionRename Action = "rename"
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Operation is a single validated property operation. After validation the
// field combinations are guaranteed per action: rename carries Old and New,
// add carries New (and optionally Default), remove carries Old.
type Operation struct {
	Action  Action      `json:"action"`
	Old     string      `json:"old,omitempty"`
	New     string      `json:"new,omitempty"`
	Default interface{} `json:"default,omitempty"`
}

// Validate checks the operation shape for its action.
func (op Operation) Validate() error {
	return validation.ValidateStruct(&op,
		validation.Field(&op.Action,
			validation.Required,
			validation.In(ActionRename, ActionAdd, ActionRemove)),
		validation.Field(&op.Old,
			validation.Required.When(op.Action == ActionRename || op.Action == ActionRemove).
				Error("old property is required")),
		validation.Field(&op.New,
			validation.Required.When(op.Action == ActionRename || op.Action == ActionAdd).
				Error("new property is required")),
	)
}

// TagRule pairs a tag with the operations that survived validation.
type TagRule struct {
	Tag string      `json:"tag"`
	Ops []Operation `json:"operations"`
}

// Load error kinds, distinguishing why the rules file could not be loaded.
const (
	KindNotFound  = "not_found"
	KindMalformed = "malformed"
	KindIO        = "io"
)

// LoadError is returned when the rules file itself cannot be read or decoded.
type LoadError struct {
	Kind string
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("rules: load %s (%s): %v", e.Path, e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

type rawConfig struct {
	Tags []yaml.Node `yaml:"tags"`
}

// Source is a loaded rules file. Validation happens lazily during iteration.
type Source struct {
	path   string
	raw    rawConfig
	logger *slog.Logger
}

// Load reads and decodes the rules file. No entry validation happens here;
// failures are typed so the caller can distinguish a missing file from
// malformed markup from other I/O trouble.
func Load(path string, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		kind := KindIO
		if errors.Is(err, fs.ErrNotExist) {
			kind = KindNotFound
		}
		return nil, &LoadError{Kind: kind, Path: path, Err: err}
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &LoadError{Kind: KindMalformed, Path: path, Err: err}
	}

	return &Source{path: path, raw: raw, logger: logger}, nil
}

// Tags returns a single-pass sequence of (tag, operations) pairs in the
// file's original order. Malformed tag entries are skipped with a diagnostic;
// invalid operations are dropped from their rule without failing it. A rule
// whose operations all fail validation is still yielded with an empty list —
// the caller decides whether to skip it.
func (s *Source) Tags() iter.Seq2[string, []Operation] {
	return func(yield func(string, []Operation) bool) {
		if len(s.raw.Tags) == 0 {
			s.logger.Error("no tags found in rules file", slog.String("path", s.path))
			return
		}

		for _, node := range s.raw.Tags {
			tag, ops, ok := s.validateEntry(node)
			if !ok {
				continue
			}
			if !yield(tag, ops) {
				return
			}
		}
	}
}

// validateEntry decodes and validates one raw tag entry.
func (s *Source) validateEntry(node yaml.Node) (string, []Operation, bool) {
	var entry struct {
		Tag        string      `yaml:"tag"`
		Properties interface{} `yaml:"properties"`
	}
	if err := node.Decode(&entry); err != nil {
		s.logger.Error("invalid tag entry", slog.String("error", err.Error()))
		return "", nil, false
	}

	if entry.Tag == "" {
		s.logger.Error("tag entry has no tag name")
		return "", nil, false
	}

	props, ok := entry.Properties.([]interface{})
	if !ok {
		s.logger.Error("properties must be a sequence", slog.String("tag", entry.Tag))
		return "", nil, false
	}
	for _, p := range props {
		if _, ok := p.(map[string]interface{}); !ok {
			s.logger.Error("properties must be a sequence of mappings", slog.String("tag", entry.Tag))
			return "", nil, false
		}
	}

	return entry.Tag, s.validateOps(entry.Tag, props), true
}

// validateOps validates each property entry, dropping invalid ones.
func (s *Source) validateOps(tag string, props []interface{}) []Operation {
	ops := make([]Operation, 0, len(props))
	for _, p := range props {
		m := p.(map[string]interface{})

		op := Operation{
			Action:  Action(stringField(m, "action")),
			Old:     stringField(m, "old"),
			New:     stringField(m, "new"),
			Default: m["default"],
		}

		if err := op.Validate(); err != nil {
			s.logger.Error("invalid property entry",
				slog.String("tag", tag),
				slog.String("action", string(op.Action)),
				slog.String("error", err.Error()))
			continue
		}

		if op.Old == op.New {
			s.logger.Warn("old and new properties are the same",
				slog.String("tag", tag),
				slog.String("action", string(op.Action)),
				slog.String("property", op.Old))
			continue
		}

		ops = append(ops, op)
	}
	return ops
}

// Rules collects the surviving (tag, operations) pairs eagerly. Used by the
// MCP validation tool; the processor iterates Tags directly.
func (s *Source) Rules() []TagRule {
	var out []TagRule
	for tag, ops := range s.Tags() {
		out = append(out, TagRule{Tag: tag, Ops: ops})
	}
	return out
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
