package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"draftcal/internal/api"
	"draftcal/internal/models"
	"draftcal/internal/store"
)

// Target is a calendar that validated drafts are published into.
type Target interface {
	Name() string
	Publish(ctx context.Context, d models.DraftEvent) (string, error)
	Retract(ctx context.Context, remoteID string) error
}

// Lookup confirms whether a draft still exists on the drafts service.
type Lookup interface {
	GetByID(ctx context.Context, id string) (api.Result[models.DraftEvent], error)
}

// State keeps track of which drafts have been published.
// The outer key is the draft id, the inner key the target name, and the value
// the id of the event on that target.
type State map[string]map[string]string

// Publisher pushes validated drafts from the store into calendar targets.
type Publisher struct {
	logger    *slog.Logger
	store     *store.Store
	lookup    Lookup
	targets   []Target
	state     State
	statePath string
	dryRun    bool
}

// NewPublisher creates a new Publisher, loading any existing state from statePath.
func NewPublisher(logger *slog.Logger, st *store.Store, lookup Lookup, targets []Target, statePath string, dryRun bool) (*Publisher, error) {
	state, err := loadState(statePath)
	if err != nil {
		// If the file doesn't exist, we can start with an empty state.
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("No publish state file found, starting fresh.", "file", statePath)
			state = make(State)
		} else {
			return nil, fmt.Errorf("failed to load publish state: %w", err)
		}
	}

	return &Publisher{
		logger:    logger,
		store:     st,
		lookup:    lookup,
		targets:   targets,
		state:     state,
		statePath: statePath,
		dryRun:    dryRun,
	}, nil
}

// Sync refreshes the user's drafts and publishes every validated draft that
// is not yet on a target. Published drafts that lost their validation or
// were deleted are retracted.
func (p *Publisher) Sync(ctx context.Context, userID string) error {
	p.logger.Info("Starting publish cycle.", "user", userID)

	p.store.FetchUserDrafts(ctx, userID)
	snap := p.store.State()
	if snap.Err != "" {
		return fmt.Errorf("failed to fetch drafts: %s", snap.Err)
	}

	cached := make(map[string]models.DraftEvent, len(snap.Drafts))
	for _, d := range snap.Drafts {
		cached[d.ID] = d
	}

	for _, d := range snap.Drafts {
		if !d.IsValidated() {
			continue
		}
		for _, t := range p.targets {
			if err := p.publishDraft(ctx, t, d); err != nil {
				// Continue with the next draft even if one fails.
				p.logger.Error("Failed to publish draft", "title", d.Title, "target", t.Name(), "error", err)
			}
		}
	}

	for id := range p.state {
		if d, ok := cached[id]; ok && d.IsValidated() {
			continue
		}
		if _, ok := cached[id]; !ok && !p.confirmGone(ctx, id) {
			continue
		}
		p.retractDraft(ctx, id)
	}

	if !p.dryRun {
		if err := p.saveState(); err != nil {
			p.logger.Error("Failed to save publish state", "error", err)
		}
	}

	p.logger.Info("Publish cycle finished.")
	return nil
}

// Published returns a copy of the publish state.
func (p *Publisher) Published() State {
	out := make(State, len(p.state))
	for id, targets := range p.state {
		inner := make(map[string]string, len(targets))
		for name, remote := range targets {
			inner[name] = remote
		}
		out[id] = inner
	}
	return out
}

func (p *Publisher) publishDraft(ctx context.Context, t Target, d models.DraftEvent) error {
	if _, exists := p.state[d.ID][t.Name()]; exists {
		p.logger.Debug("Draft already published, skipping.", "title", d.Title, "id", d.ID, "target", t.Name())
		return nil
	}

	if p.dryRun {
		p.logger.Info("[DRY RUN] Would publish draft", "title", d.Title, "target", t.Name(), "startTime", d.StartTime)
		return nil
	}

	remoteID, err := t.Publish(ctx, d)
	if err != nil {
		return err
	}

	if p.state[d.ID] == nil {
		p.state[d.ID] = make(map[string]string)
	}
	p.state[d.ID][t.Name()] = remoteID
	return nil
}

func (p *Publisher) retractDraft(ctx context.Context, id string) {
	for _, t := range p.targets {
		remoteID, ok := p.state[id][t.Name()]
		if !ok {
			continue
		}
		if p.dryRun {
			p.logger.Info("[DRY RUN] Would retract draft", "id", id, "target", t.Name())
			continue
		}
		if err := t.Retract(ctx, remoteID); err != nil {
			p.logger.Error("Failed to retract draft", "id", id, "target", t.Name(), "error", err)
			continue
		}
		delete(p.state[id], t.Name())
	}
	if !p.dryRun && len(p.state[id]) == 0 {
		delete(p.state, id)
	}
}

// confirmGone reports whether the service says the draft no longer exists.
// A refresh drops drafts whose fetch failed, so absence from the cache alone
// is not proof of deletion. Only a not-found answer counts; any other failure
// keeps the published events.
func (p *Publisher) confirmGone(ctx context.Context, id string) bool {
	res, err := p.lookup.GetByID(ctx, id)
	if err != nil {
		p.logger.Warn("Could not confirm draft deletion", "id", id, "error", err)
		return false
	}
	if !res.OK() && !res.NotFound() {
		p.logger.Warn("Could not confirm draft deletion", "id", id, "error", res.Message(), "status", res.Status())
	}
	return res.NotFound()
}

// loadState loads the publish state from the JSON file.
func loadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state == nil {
		state = make(State)
	}
	return state, nil
}

// saveState saves the current publish state to the JSON file.
func (p *Publisher) saveState() error {
	data, err := json.MarshalIndent(p.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal publish state: %w", err)
	}
	return os.WriteFile(p.statePath, data, 0644)
}
