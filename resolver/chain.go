// Package resolver maps a caller supplied thread id onto its owning account
// through an ordered list of strategies. The first strategy that yields an
// owned thread wins; migrations write through an upsert keyed on the id.
package resolver

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-ingress/core"
)

type Chain struct {
	strategies []Strategy
}

func NewChain(strategies ...Strategy) *Chain {
	list := make([]Strategy, 0, len(strategies))
	for _, strategy := range strategies {
		if strategy != nil {
			list = append(list, strategy)
		}
	}
	return &Chain{strategies: list}
}

// NewDefaultChain wires the canonical order: direct lookup, legacy room,
// legacy membership, caller hint.
func NewDefaultChain(threads core.ThreadStore, legacy core.LegacyStore) *Chain {
	strategies := []Strategy{DirectLookup(threads)}
	if legacy != nil {
		strategies = append(strategies,
			LegacyRoomMigration(legacy, threads),
			LegacyMembershipMigration(legacy, threads),
		)
	}
	strategies = append(strategies, OwnershipHint(threads))
	return NewChain(strategies...)
}

func (c *Chain) Stages() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.strategies))
	for _, strategy := range c.strategies {
		out = append(out, strategy.Name())
	}
	return out
}

func (c *Chain) Resolve(ctx context.Context, req core.ResolveRequest) (core.Resolution, error) {
	if c == nil || len(c.strategies) == 0 {
		return core.Resolution{}, goerrors.New("resolver: no strategies configured", goerrors.CategoryInternal).
			WithCode(http.StatusInternalServerError).
			WithTextCode(core.ErrorInternal)
	}
	threadID, err := core.NormalizeIdentifier("thread_id", req.ThreadID)
	if err != nil {
		return core.Resolution{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "resolver: invalid thread id").
			WithCode(http.StatusBadRequest).
			WithTextCode(core.ErrorBadInput)
	}
	req.ThreadID = threadID

	diagnostics := make([]core.StageDiagnostic, 0, len(c.strategies))
	for i, strategy := range c.strategies {
		thread, found, detail, err := strategy.Resolve(ctx, req)
		if err != nil {
			diagnostics = append(diagnostics, core.StageDiagnostic{Stage: strategy.Name(), Outcome: "error", Detail: "storage error"})
			return core.Resolution{Diagnostic: diagnostics}, goerrors.Wrap(err, goerrors.CategoryInternal,
				fmt.Sprintf("resolver: %s failed", strategy.Name())).
				WithCode(http.StatusInternalServerError).
				WithTextCode(core.ErrorInternal).
				WithMetadata(map[string]any{
					"thread_id": threadID,
					"stages":    formatDiagnostics(diagnostics),
				})
		}
		if found {
			diagnostics = append(diagnostics, core.StageDiagnostic{Stage: strategy.Name(), Outcome: "resolved"})
			return core.Resolution{
				Thread:     thread,
				Strategy:   strategy.Name(),
				Migrated:   i > 0,
				Diagnostic: diagnostics,
			}, nil
		}
		diagnostics = append(diagnostics, core.StageDiagnostic{Stage: strategy.Name(), Outcome: "miss", Detail: detail})
	}

	return core.Resolution{Diagnostic: diagnostics}, goerrors.New("thread not found", goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(core.ErrorThreadNotFound).
		WithMetadata(map[string]any{
			"thread_id": threadID,
			"stages":    formatDiagnostics(diagnostics),
		})
}

func formatDiagnostics(diagnostics []core.StageDiagnostic) string {
	parts := make([]string, 0, len(diagnostics))
	for _, diagnostic := range diagnostics {
		entry := diagnostic.Stage + "=" + diagnostic.Outcome
		if detail := strings.TrimSpace(diagnostic.Detail); detail != "" {
			entry += "(" + detail + ")"
		}
		parts = append(parts, entry)
	}
	return strings.Join(parts, ",")
}

var _ core.ThreadResolver = (*Chain)(nil)
