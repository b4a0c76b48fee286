package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"draftcal/internal/api"
	"draftcal/internal/models"

	"golang.org/x/sync/errgroup"
)

const defaultFanOutLimit = 8

// DraftAPI is the subset of the drafts service the store drives.
type DraftAPI interface {
	Create(ctx context.Context, draft models.NewDraft) (api.Result[models.DraftEvent], error)
	GetByID(ctx context.Context, id string) (api.Result[models.DraftEvent], error)
	GetUserDrafts(ctx context.Context, userID string) (api.Result[api.UserDrafts], error)
	Validate(ctx context.Context, id string) (api.Result[models.DraftEvent], error)
	Update(ctx context.Context, id string, patch models.DraftPatch) (api.Result[models.DraftEvent], error)
	Delete(ctx context.Context, id string) (api.Result[struct{}], error)
}

// Store caches one user's drafts and keeps the cache in sync with the service.
//
// Actions run one at a time. Every successful write is followed by a full
// refresh of the user's drafts rather than a local edit of the cache.
type Store struct {
	api    DraftAPI
	logger *slog.Logger
	fanOut int

	actionMu sync.Mutex // held for the whole of an action

	mu        sync.RWMutex
	state     State
	listeners []func(State)
}

// Options tune a Store.
type Options struct {
	FanOutLimit int // Concurrent per-draft fetches during a refresh
}

// New creates a Store backed by client.
func New(logger *slog.Logger, client DraftAPI, opts Options) *Store {
	if opts.FanOutLimit <= 0 {
		opts.FanOutLimit = defaultFanOutLimit
	}
	return &Store{
		api:    client,
		logger: logger,
		fanOut: opts.FanOutLimit,
		state:  State{Drafts: []models.DraftEvent{}},
	}
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers fn to receive every new snapshot. fn runs synchronously
// after each transition and must not call back into store actions.
func (s *Store) Subscribe(fn func(State)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) apply(p patch) {
	s.mu.Lock()
	s.state = reduce(s.state, p)
	snapshot := s.state
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

// begin starts an action and returns the function that ends it.
func (s *Store) begin() func() {
	s.actionMu.Lock()
	s.apply(actionStarted{})
	return func() {
		s.apply(actionFinished{})
		s.actionMu.Unlock()
	}
}

// FetchUserDrafts replaces the cache with userID's drafts. Failures are
// recorded in the error slot and leave an empty cache; nothing is returned.
func (s *Store) FetchUserDrafts(ctx context.Context, userID string) {
	defer s.begin()()
	s.refresh(ctx, userID)
}

// CreateDraft creates a draft owned by userID and refreshes the cache.
func (s *Store) CreateDraft(ctx context.Context, userID string, draft models.NewDraft) (models.DraftEvent, error) {
	defer s.begin()()

	draft.User = userID
	res, err := s.api.Create(ctx, draft)
	if err := s.writeFailed(res.Message(), res.OK(), err, "failed to create draft"); err != nil {
		return models.DraftEvent{}, err
	}

	s.logger.Info("Created draft", "id", res.Value().ID, "title", draft.Title)
	s.refresh(ctx, userID)
	return res.Value(), nil
}

// ValidateDraft asks the service to validate a draft and refreshes the cache.
func (s *Store) ValidateDraft(ctx context.Context, userID, id string) (models.DraftEvent, error) {
	defer s.begin()()

	res, err := s.api.Validate(ctx, id)
	if err := s.writeFailed(res.Message(), res.OK(), err, "failed to validate draft"); err != nil {
		return models.DraftEvent{}, err
	}

	s.logger.Info("Validated draft", "id", id)
	s.refresh(ctx, userID)
	return s.written(res, id), nil
}

// UpdateDraft applies a partial update and refreshes the cache.
func (s *Store) UpdateDraft(ctx context.Context, userID, id string, p models.DraftPatch) (models.DraftEvent, error) {
	defer s.begin()()

	res, err := s.api.Update(ctx, id, p)
	if err := s.writeFailed(res.Message(), res.OK(), err, "failed to update draft"); err != nil {
		return models.DraftEvent{}, err
	}

	s.logger.Info("Updated draft", "id", id)
	s.refresh(ctx, userID)
	return s.written(res, id), nil
}

// DeleteDraft removes a draft and refreshes the cache.
func (s *Store) DeleteDraft(ctx context.Context, userID, id string) error {
	defer s.begin()()

	res, err := s.api.Delete(ctx, id)
	if err := s.writeFailed(res.Message(), res.OK(), err, "failed to delete draft"); err != nil {
		return err
	}

	s.logger.Info("Deleted draft", "id", id)
	s.refresh(ctx, userID)
	return nil
}

// SelectDraft loads a single draft into the current-draft slot. Failures
// clear the slot and are recorded in the error slot only.
func (s *Store) SelectDraft(ctx context.Context, id string) {
	defer s.begin()()

	res, err := s.api.GetByID(ctx, id)
	if err != nil {
		s.apply(actionFailed{Message: messageOr(err, "failed to fetch draft")})
		s.apply(draftSelected{})
		return
	}
	if !res.OK() {
		s.apply(actionFailed{Message: res.Message()})
		s.apply(draftSelected{})
		return
	}
	d := res.Value()
	s.apply(draftSelected{Draft: &d})
}

// ClearSelection empties the current-draft slot.
func (s *Store) ClearSelection() {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()
	s.apply(draftSelected{})
}

// written returns the record a successful validate or update produced: the
// reply's record when it carried one, otherwise the refreshed cache entry.
func (s *Store) written(res api.Result[models.DraftEvent], id string) models.DraftEvent {
	if res.HasValue() {
		return res.Value()
	}
	for _, d := range s.State().Drafts {
		if d.ID == id {
			return d
		}
	}
	return models.DraftEvent{ID: id}
}

// writeFailed records a failed write and returns the error to hand back to
// the caller, or nil if the write succeeded.
func (s *Store) writeFailed(message string, ok bool, err error, fallback string) error {
	if err != nil {
		s.apply(actionFailed{Message: messageOr(err, fallback)})
		s.logger.Error("Draft request failed", "error", err)
		return fmt.Errorf("%s: %w", fallback, err)
	}
	if !ok {
		s.apply(actionFailed{Message: message})
		s.logger.Warn("Drafts service rejected request", "error", message)
		return &api.EnvelopeError{Message: message}
	}
	return nil
}

// refresh reloads the cache. It must run inside an action.
func (s *Store) refresh(ctx context.Context, userID string) {
	res, err := s.api.GetUserDrafts(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to fetch user drafts", "user", userID, "error", err)
		s.apply(actionFailed{Message: messageOr(err, "failed to fetch drafts"), ClearDrafts: true})
		return
	}
	if !res.OK() {
		s.apply(actionFailed{Message: res.Message(), ClearDrafts: true})
		return
	}

	list := res.Value()
	drafts := list.Drafts
	if list.Identifiers() {
		drafts = s.fetchEach(ctx, list.IDs)
	}
	s.logger.Debug("Refreshed drafts", "user", userID, "count", len(drafts))
	s.apply(draftsLoaded{Drafts: drafts})
}

// fetchEach loads every id concurrently and keeps the results in id order.
// Ids whose fetch fails are dropped without touching the error slot.
func (s *Store) fetchEach(ctx context.Context, ids []string) []models.DraftEvent {
	results := make([]*models.DraftEvent, len(ids))

	var g errgroup.Group
	g.SetLimit(s.fanOut)
	for i, id := range ids {
		g.Go(func() error {
			res, err := s.api.GetByID(ctx, id)
			if err != nil {
				s.logger.Debug("Dropping draft from refresh", "id", id, "error", err)
				return nil
			}
			if !res.OK() {
				s.logger.Debug("Dropping draft from refresh", "id", id, "error", res.Message())
				return nil
			}
			d := res.Value()
			results[i] = &d
			return nil
		})
	}
	g.Wait()

	drafts := make([]models.DraftEvent, 0, len(ids))
	for _, d := range results {
		if d != nil {
			drafts = append(drafts, *d)
		}
	}
	return drafts
}

func messageOr(err error, fallback string) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallback
}
