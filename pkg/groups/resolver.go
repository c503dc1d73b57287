// Package groups aggregates group challenge outcomes. A group resolves
// once every member contract is terminal; a fully successful group
// earns a one-time bonus. There is no group state machine: resolution
// is a pure aggregation over member contracts plus an idempotent award
// marker.
package groups

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stakebound/core/pkg/contracts"
	"github.com/stakebound/core/pkg/notify"
	"github.com/stakebound/core/pkg/store"
	"github.com/stakebound/core/pkg/textgen"
)

// Resolver computes group outcomes and sends the weekly group nudges.
type Resolver struct {
	contracts store.ContractStore
	markers   store.MarkerStore
	textgen   textgen.Generator
	notifier  notify.Notifier
	log       *slog.Logger
	clock     func() time.Time
}

// NewResolver wires a resolver. A nil logger falls back to the default.
func NewResolver(cs store.ContractStore, ms store.MarkerStore, gen textgen.Generator, n notify.Notifier, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		contracts: cs,
		markers:   ms,
		textgen:   gen,
		notifier:  n,
		log:       log.With("component", "groups"),
		clock:     time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (r *Resolver) WithClock(clock func() time.Time) *Resolver {
	r.clock = clock
	return r
}

// ResolveAll inspects every group and returns an outcome for each group
// whose member contracts are all terminal. A fully successful group
// gets the bonus awarded at most once; the award marker makes repeat
// resolutions no-ops.
func (r *Resolver) ResolveAll(ctx context.Context) ([]contracts.GroupOutcome, error) {
	groupIDs, err := r.contracts.ListGroupIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}

	var outcomes []contracts.GroupOutcome
	for _, groupID := range groupIDs {
		outcome, resolved, err := r.resolve(ctx, groupID)
		if err != nil {
			// one broken group must not block the rest
			r.log.Warn("group resolution failed", "group_id", groupID, "error", err)
			continue
		}
		if resolved {
			outcomes = append(outcomes, outcome)
		}
	}
	return outcomes, nil
}

func (r *Resolver) resolve(ctx context.Context, groupID string) (contracts.GroupOutcome, bool, error) {
	members, err := r.contracts.ListByGroup(ctx, groupID)
	if err != nil {
		return contracts.GroupOutcome{}, false, fmt.Errorf("listing members: %w", err)
	}
	if len(members) == 0 {
		return contracts.GroupOutcome{}, false, nil
	}

	succeeded := 0
	for _, c := range members {
		if !c.Status.IsTerminal() {
			return contracts.GroupOutcome{}, false, nil
		}
		if c.Status == contracts.StatusSucceeded {
			succeeded++
		}
	}

	now := r.clock()
	outcome := contracts.GroupOutcome{
		GroupID:      groupID,
		Members:      len(members),
		Succeeded:    succeeded,
		AllSucceeded: succeeded == len(members),
		ResolvedAt:   now,
	}
	if !outcome.AllSucceeded {
		return outcome, true, nil
	}

	awarded, err := r.markers.TryAwardGroupBonus(ctx, groupID, now)
	if err != nil {
		return contracts.GroupOutcome{}, false, fmt.Errorf("awarding bonus: %w", err)
	}
	outcome.BonusAwarded = awarded
	if !awarded {
		return outcome, true, nil
	}

	r.log.Info("group bonus awarded", "group_id", groupID, "members", len(members))
	for _, c := range members {
		r.send(ctx, notify.Message{
			UserID:  c.UserID,
			GroupID: groupID,
			Kind:    "group_bonus",
			Body:    fmt.Sprintf("Everyone in your group of %d delivered. Bonus unlocked.", len(members)),
		})
	}
	return outcome, true, nil
}

// Nudge sends the weekly check-in to members of groups with contracts
// still in flight.
func (r *Resolver) Nudge(ctx context.Context) (int, error) {
	groupIDs, err := r.contracts.ListGroupIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing groups: %w", err)
	}

	sent := 0
	for _, groupID := range groupIDs {
		members, err := r.contracts.ListByGroup(ctx, groupID)
		if err != nil {
			r.log.Warn("group nudge skipped", "group_id", groupID, "error", err)
			continue
		}

		inFlight := 0
		for _, c := range members {
			if !c.Status.IsTerminal() {
				inFlight++
			}
		}
		if inFlight == 0 {
			continue
		}

		text, err := r.textgen.Generate(ctx, textgen.Request{Kind: textgen.KindGroupNudge})
		if err != nil {
			text = fmt.Sprintf("Your group has %d of %d contracts still in flight. Check in on each other.",
				inFlight, len(members))
		}
		for _, c := range members {
			if c.Status.IsTerminal() {
				continue
			}
			r.send(ctx, notify.Message{
				UserID:     c.UserID,
				ContractID: c.ID,
				GroupID:    groupID,
				Kind:       "group_nudge",
				Body:       text,
			})
			sent++
		}
	}
	return sent, nil
}

func (r *Resolver) send(ctx context.Context, msg notify.Message) {
	if err := r.notifier.Send(ctx, msg); err != nil {
		r.log.Warn("group notification failed", "user_id", msg.UserID, "group_id", msg.GroupID, "error", err)
	}
}
