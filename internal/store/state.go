package store

import "draftcal/internal/models"

// State is an immutable snapshot of the store.
type State struct {
	Drafts  []models.DraftEvent `json:"drafts"`
	Current *models.DraftEvent  `json:"currentDraft"`
	Loading bool                `json:"loading"`
	Err     string              `json:"error,omitempty"`
}

// patch is a single state transition. Actions never touch State directly;
// they emit patches that reduce applies under the state lock.
type patch interface{ isPatch() }

type actionStarted struct{}

type actionFinished struct{}

type actionFailed struct {
	Message     string
	ClearDrafts bool
}

type draftsLoaded struct {
	Drafts []models.DraftEvent
}

type draftSelected struct {
	Draft *models.DraftEvent
}

func (actionStarted) isPatch()  {}
func (actionFinished) isPatch() {}
func (actionFailed) isPatch()   {}
func (draftsLoaded) isPatch()   {}
func (draftSelected) isPatch()  {}

// reduce returns the state after applying p. It never mutates s.
func reduce(s State, p patch) State {
	switch e := p.(type) {
	case actionStarted:
		s.Loading = true
		s.Err = ""

	case actionFinished:
		s.Loading = false

	case actionFailed:
		s.Err = e.Message
		if e.ClearDrafts {
			s.Drafts = []models.DraftEvent{}
		}

	case draftsLoaded:
		s.Drafts = e.Drafts

	case draftSelected:
		s.Current = e.Draft
	}
	return s
}
