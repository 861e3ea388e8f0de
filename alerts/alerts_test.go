package alerts

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/quii/vue-fast-sub001/models"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine() (*Engine, *Board, *clock) {
	board := NewBoard(0)
	e := NewEngine(board, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c := &clock{t: time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)}
	e.now = c.Now
	return e, board, c
}

// shootWith builds a ranked shoot; scores[i] belongs to position i+1.
func shootWith(arrows int, scores ...int) *models.Shoot {
	s := &models.Shoot{Code: "4821"}
	names := []string{"Alice", "Bob", "Carl", "Dana"}
	for i, score := range scores {
		s.Participants = append(s.Participants, &models.Participant{
			ArcherName:      names[i],
			RoundName:       "windsor",
			TotalScore:      score,
			CurrentPosition: i + 1,
		})
	}
	if len(s.Participants) > 0 {
		s.Participants[0].ArrowsShot = arrows
	}
	return s
}

func TestLeaderDozenArrows(t *testing.T) {
	e, board, c := newTestEngine()

	fired := e.Evaluate(shootWith(12, 40, 30))
	if len(fired) != 1 || fired[0].RuleID != RuleLeaderDozenArrows {
		t.Fatalf("expected leader alert at 12 arrows, got %+v", fired)
	}
	if !strings.Contains(fired[0].Body, "Alice leads with 40 points (Windsor)") {
		t.Fatalf("unexpected body %q", fired[0].Body)
	}

	c.Advance(31 * time.Second)
	if fired := e.Evaluate(shootWith(13, 44, 30)); len(fired) != 0 {
		t.Fatalf("13 arrows is not a multiple of 12, got %+v", fired)
	}

	if fired := e.Evaluate(shootWith(24, 80, 30)); len(fired) != 1 {
		t.Fatalf("expected leader alert at 24 arrows once cooldown elapsed, got %+v", fired)
	}
	if len(board.Alerts()) != 1 {
		t.Fatalf("alerts with the same tag must replace each other, got %d", len(board.Alerts()))
	}
	if got := board.Alerts()[0].Body; !strings.Contains(got, "80 points") {
		t.Fatalf("expected newest alert on board, got %q", got)
	}
}

func TestLeaderDozenArrowsRespectsCooldown(t *testing.T) {
	e, _, c := newTestEngine()

	if len(e.Evaluate(shootWith(12, 40))) != 1 {
		t.Fatal("expected first alert")
	}
	c.Advance(10 * time.Second)
	if fired := e.Evaluate(shootWith(24, 80)); len(fired) != 0 {
		t.Fatalf("cooldown has not elapsed, got %+v", fired)
	}
	c.Advance(20 * time.Second)
	if len(e.Evaluate(shootWith(36, 120))) != 1 {
		t.Fatal("expected alert exactly when cooldown elapses")
	}
}

func TestZeroArrowsNeverFires(t *testing.T) {
	e, _, _ := newTestEngine()
	if fired := e.Evaluate(shootWith(0, 0, 0)); len(fired) != 0 {
		t.Fatalf("zero arrows is not a positive multiple, got %+v", fired)
	}
	if fired := e.Evaluate(&models.Shoot{Code: "4821"}); len(fired) != 0 {
		t.Fatalf("empty shoot must not fire, got %+v", fired)
	}
}

func TestCloseCompetitionIsOptIn(t *testing.T) {
	e, _, c := newTestEngine()
	tight := shootWith(5, 60, 57)

	if fired := e.Evaluate(tight); len(fired) != 0 {
		t.Fatalf("close competition is disabled by default, got %+v", fired)
	}

	if err := e.Enable("4821", RuleCloseCompetition); err != nil {
		t.Fatalf("enable: %v", err)
	}
	fired := e.Evaluate(tight)
	if len(fired) != 1 || fired[0].Tag != Tag("4821", RuleCloseCompetition) {
		t.Fatalf("expected close competition alert, got %+v", fired)
	}
	if e.Enabled("9999", RuleCloseCompetition) {
		t.Fatal("enabling is per shoot")
	}

	c.Advance(30 * time.Second)
	if len(e.Evaluate(tight)) != 0 {
		t.Fatal("60s cooldown has not elapsed")
	}
	c.Advance(30 * time.Second)
	if len(e.Evaluate(tight)) != 1 {
		t.Fatal("expected alert after cooldown")
	}
}

func TestCloseCompetitionPredicate(t *testing.T) {
	tests := []struct {
		name   string
		scores []int
		want   bool
	}{
		{"gap of five", []int{60, 55}, true},
		{"gap of one", []int{51, 50}, true},
		{"tied", []int{60, 60}, false},
		{"gap too wide", []int{60, 54}, false},
		{"leader at fifty", []int{50, 48}, false},
		{"single archer", []int{80}, false},
	}
	rule := CloseCompetition()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rule.Predicate(shootWith(1, tt.scores...)); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDisableDefaultRule(t *testing.T) {
	e, _, _ := newTestEngine()
	if err := e.Disable("4821", RuleLeaderDozenArrows); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if fired := e.Evaluate(shootWith(12, 40)); len(fired) != 0 {
		t.Fatalf("disabled rule fired: %+v", fired)
	}

	e.Forget("4821")
	if !e.Enabled("4821", RuleLeaderDozenArrows) {
		t.Fatal("forget should restore defaults")
	}
}

func TestUnknownRule(t *testing.T) {
	e, _, _ := newTestEngine()
	if err := e.Enable("4821", "nope"); !errors.Is(err, ErrUnknownRule) {
		t.Fatalf("expected ErrUnknownRule, got %v", err)
	}
}

func TestBoardDismiss(t *testing.T) {
	b := NewBoard(1)
	b.Notify(Alert{Tag: "a"})
	b.Notify(Alert{Tag: "b"})
	b.Dismiss("a")
	if got := b.Alerts(); len(got) != 1 || got[0].Tag != "b" {
		t.Fatalf("unexpected alerts %+v", got)
	}
	if got := <-b.C; got.Tag != "a" {
		t.Fatalf("expected first alert on channel, got %+v", got)
	}
}
