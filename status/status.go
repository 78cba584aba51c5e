// Package status maps draft-post milestone titles onto the editorial stage
// vocabulary and derives the visual encoding used by the issue board.
package status

import (
	"sort"
	"strings"
	"time"

	"blogdash/models"
)

// Status is an editorial stage. Values are ordered: a later stage is a
// greater value.
type Status int

const (
	Idea Status = iota
	Draft
	ToEdit
	Ready
	Approved
	Posted
)

// Count is the number of stages in the vocabulary
const Count = int(Posted) + 1

var names = [Count]string{"idea", "draft", "to edit", "ready", "approved", "posted"}

// synonyms maps alternate milestone spellings to their stage. Keys are normalised.
var synonyms = map[string]Status{
	"idea":             Idea,
	"ideas":            Idea,
	"draft":            Draft,
	"drafting":         Draft,
	"to edit":          ToEdit,
	"ready for edit":   ToEdit,
	"ready to edit":    ToEdit,
	"editing":          ToEdit,
	"ready":            Ready,
	"ready to approve": Ready,
	"ready for review": Ready,
	"approved":         Approved,
	"posted":           Posted,
	"published":        Posted,
}

var palette = [Count]string{"#dce4ef", "#9bdaf1", "#02bfe7", "#0071bc", "#205493", "#2e8540"}

var opacities = [Count]float64{0.3, 0.45, 0.6, 0.75, 0.9, 1.0}

// Encoding of the synthetic closed step
const (
	ClosedTitle   = "closed"
	ClosedColor   = "#5b616b"
	ClosedOpacity = 1.0
)

func normalize(title string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	title = strings.NewReplacer("-", " ", "_", " ").Replace(title)
	return strings.Join(strings.Fields(title), " ")
}

// Parse maps a milestone title to its stage
func Parse(title string) (Status, bool) {
	s, ok := synonyms[normalize(title)]
	return s, ok
}

func (s Status) String() string {
	if s < 0 || int(s) >= Count {
		return "unknown"
	}
	return names[s]
}

// Angle is the completion of s as a fraction of a full turn. The step is
// 1/(Count+1) so that the synthetic closed step lands on a full turn.
func (s Status) Angle() float64 {
	return float64(int(s)+1) / float64(Count+1)
}

// Color returns the palette color for s
func (s Status) Color() string {
	return palette[s]
}

// Opacity returns the fill opacity for s
func (s Status) Opacity() float64 {
	return opacities[s]
}

// Terminal reports whether no further transitions are expected after s
func (s Status) Terminal() bool {
	return s == Posted
}

// Step is one displayed entry of an issue's status history
type Step struct {
	MilestoneID int64     `json:"milestone_id,omitempty"`
	Title       string    `json:"title"`
	Status      *Status   `json:"-"`
	Stage       string    `json:"stage,omitempty"`
	At          time.Time `json:"at"`
	Angle       float64   `json:"angle"`
	Color       string    `json:"color"`
	Opacity     float64   `json:"opacity"`
	Terminal    bool      `json:"terminal"`
	Synthetic   bool      `json:"synthetic"`
}

// Known reports whether the step carries a stage from the vocabulary
func (s Step) Known() bool {
	return s.Status != nil
}

func stepFor(m models.Milestone) Step {
	step := Step{MilestoneID: m.ID, Title: m.Title, At: m.CreatedAt}
	if st, ok := Parse(m.Title); ok {
		step.Status = &st
		step.Stage = st.String()
		step.Angle = st.Angle()
		step.Color = st.Color()
		step.Opacity = st.Opacity()
		step.Terminal = st.Terminal()
	}
	return step
}

// Timeline returns the displayed status history of an issue ordered by
// creation time. A closed issue whose history has no terminal step gets one
// synthetic closed step at its close time; it is never stored.
func Timeline(issue models.Issue, milestones []models.Milestone) []Step {
	ordered := make([]models.Milestone, len(milestones))
	copy(ordered, milestones)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	steps := make([]Step, 0, len(ordered)+1)
	terminal := false
	for _, m := range ordered {
		step := stepFor(m)
		terminal = terminal || step.Terminal
		steps = append(steps, step)
	}

	if issue.IsClosed() && !terminal {
		at := issue.UpdatedAt
		if issue.ClosedAt != nil {
			at = *issue.ClosedAt
		}
		steps = append(steps, Step{
			Title:     ClosedTitle,
			Stage:     ClosedTitle,
			At:        at,
			Angle:     1,
			Color:     ClosedColor,
			Opacity:   ClosedOpacity,
			Terminal:  true,
			Synthetic: true,
		})
	}
	return steps
}

// Next returns the first step after steps[i] that carries a known stage or is
// synthetic. ok is false when steps[i] is the last such step.
func Next(steps []Step, i int) (Step, bool) {
	for j := i + 1; j < len(steps); j++ {
		if steps[j].Known() || steps[j].Synthetic {
			return steps[j], true
		}
	}
	return Step{}, false
}

// Current returns the latest step with a known stage, if any
func Current(steps []Step) (Step, bool) {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Known() || steps[i].Synthetic {
			return steps[i], true
		}
	}
	return Step{}, false
}
