package resolver

import (
	"context"
	"errors"
	"strings"

	"github.com/goliatone/go-ingress/core"
)

const (
	StageDirect           = "direct_lookup"
	StageLegacyRoom       = "legacy_room_migration"
	StageLegacyMembership = "legacy_membership_migration"
	StageOwnershipHint    = "ownership_hint"
)

// Strategy is one step of the resolution chain. found=false with a nil error
// means the next step should be tried; a non-nil error aborts the chain.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, req core.ResolveRequest) (thread core.Thread, found bool, detail string, err error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc struct {
	Stage string
	Fn    func(ctx context.Context, req core.ResolveRequest) (core.Thread, bool, string, error)
}

func (s StrategyFunc) Name() string { return s.Stage }

func (s StrategyFunc) Resolve(ctx context.Context, req core.ResolveRequest) (core.Thread, bool, string, error) {
	if s.Fn == nil {
		return core.Thread{}, false, "not configured", nil
	}
	return s.Fn(ctx, req)
}

// DirectLookup returns the canonical thread when it exists with an owner.
func DirectLookup(threads core.ThreadStore) Strategy {
	return StrategyFunc{Stage: StageDirect, Fn: func(ctx context.Context, req core.ResolveRequest) (core.Thread, bool, string, error) {
		thread, err := threads.GetThread(ctx, req.ThreadID)
		if errors.Is(err, core.ErrThreadNotFound) {
			return core.Thread{}, false, "no canonical thread", nil
		}
		if err != nil {
			return core.Thread{}, false, "", err
		}
		if strings.TrimSpace(thread.OwnerID) == "" {
			return core.Thread{}, false, "canonical thread has no owner", nil
		}
		return thread, true, "", nil
	}}
}

// LegacyRoomMigration copies the owner of a legacy room with the same id into
// a new canonical thread.
func LegacyRoomMigration(legacy core.LegacyStore, threads core.ThreadStore) Strategy {
	return StrategyFunc{Stage: StageLegacyRoom, Fn: func(ctx context.Context, req core.ResolveRequest) (core.Thread, bool, string, error) {
		room, err := legacy.GetLegacyRoom(ctx, req.ThreadID)
		if errors.Is(err, core.ErrLegacyRecordNotFound) {
			return core.Thread{}, false, "no legacy room", nil
		}
		if err != nil {
			return core.Thread{}, false, "", err
		}
		if strings.TrimSpace(room.OwnerID) == "" {
			return core.Thread{}, false, "legacy room has no owner", nil
		}
		settings := core.CloneMap(room.Settings)
		for key, value := range req.Settings {
			if _, exists := settings[key]; !exists {
				settings[key] = value
			}
		}
		title := strings.TrimSpace(room.Name)
		if title == "" {
			title = req.Title
		}
		return createThread(ctx, threads, req, room.OwnerID, title, settings)
	}}
}

// LegacyMembershipMigration uses the "owner" member of the legacy room as the
// thread owner when the room row itself is gone.
func LegacyMembershipMigration(legacy core.LegacyStore, threads core.ThreadStore) Strategy {
	return StrategyFunc{Stage: StageLegacyMembership, Fn: func(ctx context.Context, req core.ResolveRequest) (core.Thread, bool, string, error) {
		member, err := legacy.FindLegacyOwner(ctx, req.ThreadID)
		if errors.Is(err, core.ErrLegacyRecordNotFound) {
			return core.Thread{}, false, "no legacy owner membership", nil
		}
		if err != nil {
			return core.Thread{}, false, "", err
		}
		if strings.TrimSpace(member.UserID) == "" {
			return core.Thread{}, false, "legacy owner membership has no user", nil
		}
		return createThread(ctx, threads, req, member.UserID, req.Title, req.Settings)
	}}
}

// OwnershipHint trusts the caller supplied owner. It is the last resort.
func OwnershipHint(threads core.ThreadStore) Strategy {
	return StrategyFunc{Stage: StageOwnershipHint, Fn: func(ctx context.Context, req core.ResolveRequest) (core.Thread, bool, string, error) {
		if strings.TrimSpace(req.OwnershipHint) == "" {
			return core.Thread{}, false, "no ownership hint", nil
		}
		owner, err := core.NormalizeIdentifier("ownership hint", req.OwnershipHint)
		if err != nil {
			return core.Thread{}, false, "ownership hint rejected", nil
		}
		return createThread(ctx, threads, req, owner, req.Title, req.Settings)
	}}
}

func createThread(
	ctx context.Context,
	threads core.ThreadStore,
	req core.ResolveRequest,
	owner string,
	title string,
	settings map[string]any,
) (core.Thread, bool, string, error) {
	stored, err := threads.CreateThreadIfAbsent(ctx, core.Thread{
		ID:       req.ThreadID,
		OwnerID:  strings.TrimSpace(owner),
		Title:    title,
		Type:     req.ThreadType,
		Settings: core.CloneMap(settings),
	})
	if err != nil {
		return core.Thread{}, false, "", err
	}
	if strings.TrimSpace(stored.OwnerID) == "" {
		return core.Thread{}, false, "stored thread has no owner", nil
	}
	return stored, true, "", nil
}
