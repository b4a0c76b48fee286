package publish

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"draftcal/internal/api"
	"draftcal/internal/models"
	"draftcal/internal/store"
)

// serviceStub serves a fixed set of drafts as full records.
type serviceStub struct {
	drafts  map[string]models.DraftEvent
	listErr error
	// missing, when set, answers GetByID for ids not in drafts.
	missing *api.Result[models.DraftEvent]
}

func (s *serviceStub) Create(ctx context.Context, in models.NewDraft) (api.Result[models.DraftEvent], error) {
	return api.Failure[models.DraftEvent]("not supported"), nil
}

func (s *serviceStub) GetByID(ctx context.Context, id string) (api.Result[models.DraftEvent], error) {
	d, ok := s.drafts[id]
	if !ok {
		if s.missing != nil {
			return *s.missing, nil
		}
		return api.FailureWithStatus[models.DraftEvent]("Draft not found", http.StatusNotFound), nil
	}
	return api.Success(d), nil
}

func (s *serviceStub) GetUserDrafts(ctx context.Context, userID string) (api.Result[api.UserDrafts], error) {
	if s.listErr != nil {
		return api.Result[api.UserDrafts]{}, s.listErr
	}
	var ids []string
	for id := range s.drafts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	drafts := []models.DraftEvent{}
	for _, id := range ids {
		drafts = append(drafts, s.drafts[id])
	}
	return api.Success(api.UserDrafts{Drafts: drafts}), nil
}

func (s *serviceStub) Validate(ctx context.Context, id string) (api.Result[models.DraftEvent], error) {
	return api.Failure[models.DraftEvent]("not supported"), nil
}

func (s *serviceStub) Update(ctx context.Context, id string, p models.DraftPatch) (api.Result[models.DraftEvent], error) {
	return api.Failure[models.DraftEvent]("not supported"), nil
}

func (s *serviceStub) Delete(ctx context.Context, id string) (api.Result[struct{}], error) {
	return api.Failure[struct{}]("not supported"), nil
}

type recordingTarget struct {
	name       string
	published  []string
	retracted  []string
	publishErr error
}

func (r *recordingTarget) Name() string { return r.name }

func (r *recordingTarget) Publish(ctx context.Context, d models.DraftEvent) (string, error) {
	if r.publishErr != nil {
		return "", r.publishErr
	}
	r.published = append(r.published, d.ID)
	return r.name + "-" + d.ID, nil
}

func (r *recordingTarget) Retract(ctx context.Context, remoteID string) error {
	r.retracted = append(r.retracted, remoteID)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T, drafts ...models.DraftEvent) (*serviceStub, *store.Store, string) {
	t.Helper()
	svc := &serviceStub{drafts: make(map[string]models.DraftEvent)}
	for _, d := range drafts {
		svc.drafts[d.ID] = d
	}
	st := store.New(discardLogger(), svc, store.Options{})
	return svc, st, filepath.Join(t.TempDir(), "publish-state.json")
}

func TestSyncPublishesValidatedOnce(t *testing.T) {
	svc, st, statePath := setup(t,
		models.DraftEvent{ID: "a", User: "u1", Status: models.StatusValidated},
		models.DraftEvent{ID: "b", User: "u1", Status: models.StatusUnvalidated},
	)
	target := &recordingTarget{name: "cal"}

	p, err := NewPublisher(discardLogger(), st, svc, []Target{target}, statePath, false)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	ctx := context.Background()
	if err := p.Sync(ctx, "u1"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := p.Sync(ctx, "u1"); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	if len(target.published) != 1 || target.published[0] != "a" {
		t.Errorf("published = %v, want [a]", target.published)
	}

	data, err := os.ReadFile(statePath)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	var saved State
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if saved["a"]["cal"] != "cal-a" {
		t.Errorf("saved state = %v", saved)
	}
}

func TestSyncLoadsExistingState(t *testing.T) {
	svc, st, statePath := setup(t, models.DraftEvent{ID: "a", User: "u1", Status: models.StatusValidated})
	os.WriteFile(statePath, []byte(`{"a":{"cal":"cal-a"}}`), 0644)
	target := &recordingTarget{name: "cal"}

	p, err := NewPublisher(discardLogger(), st, svc, []Target{target}, statePath, false)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := p.Sync(context.Background(), "u1"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(target.published) != 0 {
		t.Errorf("published = %v, want none", target.published)
	}
}

func TestSyncRetractsDeletedDrafts(t *testing.T) {
	svc, st, statePath := setup(t, models.DraftEvent{ID: "a", User: "u1", Status: models.StatusValidated})
	target := &recordingTarget{name: "cal"}
	p, _ := NewPublisher(discardLogger(), st, svc, []Target{target}, statePath, false)
	ctx := context.Background()

	p.Sync(ctx, "u1")
	delete(svc.drafts, "a")
	if err := p.Sync(ctx, "u1"); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if len(target.retracted) != 1 || target.retracted[0] != "cal-a" {
		t.Errorf("retracted = %v, want [cal-a]", target.retracted)
	}
	if len(p.Published()) != 0 {
		t.Errorf("state = %v, want empty", p.Published())
	}
}

func TestSyncServerErrorKeepsPublished(t *testing.T) {
	svc, st, statePath := setup(t, models.DraftEvent{ID: "a", User: "u1", Status: models.StatusValidated})
	target := &recordingTarget{name: "cal"}
	p, _ := NewPublisher(discardLogger(), st, svc, []Target{target}, statePath, false)
	ctx := context.Background()

	if err := p.Sync(ctx, "u1"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	delete(svc.drafts, "a")
	unavailable := api.FailureWithStatus[models.DraftEvent]("database unavailable", http.StatusInternalServerError)
	svc.missing = &unavailable
	if err := p.Sync(ctx, "u1"); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if len(target.retracted) != 0 {
		t.Errorf("retracted = %v, want none", target.retracted)
	}
	if p.Published()["a"]["cal"] != "cal-a" {
		t.Errorf("state = %v, want a kept", p.Published())
	}

	svc.missing = nil
	if err := p.Sync(ctx, "u1"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(target.retracted) != 1 || target.retracted[0] != "cal-a" {
		t.Errorf("retracted = %v, want [cal-a] once not found", target.retracted)
	}
}

func TestSyncFetchFailureKeepsPublished(t *testing.T) {
	svc, st, statePath := setup(t, models.DraftEvent{ID: "a", User: "u1", Status: models.StatusValidated})
	target := &recordingTarget{name: "cal"}
	p, _ := NewPublisher(discardLogger(), st, svc, []Target{target}, statePath, false)
	ctx := context.Background()

	p.Sync(ctx, "u1")
	svc.listErr = errors.New("service down")
	if err := p.Sync(ctx, "u1"); err == nil {
		t.Fatal("expected error when drafts cannot be fetched")
	}
	if len(target.retracted) != 0 {
		t.Errorf("retracted = %v, want none", target.retracted)
	}
}

func TestSyncDryRun(t *testing.T) {
	svc, st, statePath := setup(t, models.DraftEvent{ID: "a", User: "u1", Status: models.StatusValidated})
	target := &recordingTarget{name: "cal"}
	p, _ := NewPublisher(discardLogger(), st, svc, []Target{target}, statePath, true)

	if err := p.Sync(context.Background(), "u1"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(target.published) != 0 {
		t.Errorf("dry run published %v", target.published)
	}
	if _, err := os.Stat(statePath); !os.IsNotExist(err) {
		t.Error("dry run should not write state")
	}
}

func TestSyncTargetFailureContinues(t *testing.T) {
	svc, st, statePath := setup(t,
		models.DraftEvent{ID: "a", User: "u1", Status: models.StatusValidated},
		models.DraftEvent{ID: "b", User: "u1", Status: models.StatusValidated},
	)
	broken := &recordingTarget{name: "broken", publishErr: errors.New("unreachable")}
	good := &recordingTarget{name: "good"}
	p, _ := NewPublisher(discardLogger(), st, svc, []Target{broken, good}, statePath, false)

	if err := p.Sync(context.Background(), "u1"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(good.published) != 2 {
		t.Errorf("good published = %v, want 2 drafts", good.published)
	}
	state := p.Published()
	if _, ok := state["a"]["broken"]; ok {
		t.Error("failed publish should not be recorded")
	}
}
