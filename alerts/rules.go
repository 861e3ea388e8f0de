package alerts

import (
	"fmt"
	"time"

	"github.com/quii/vue-fast-sub001/models"
	"github.com/quii/vue-fast-sub001/utils"
)

const (
	dozen = 12

	closeGap          = 5
	closeLeaderMin    = 50
	leaderCooldown    = 30 * time.Second
	closeCompCooldown = 60 * time.Second
)

func DefaultRules() []Rule {
	return []Rule{LeaderDozenArrows(), CloseCompetition()}
}

// LeaderDozenArrows announces the leader each time the arrows shot across all
// archers reach a multiple of twelve.
func LeaderDozenArrows() Rule {
	return Rule{
		ID:               RuleLeaderDozenArrows,
		Cooldown:         leaderCooldown,
		EnabledByDefault: true,
		Predicate: func(shoot *models.Shoot) bool {
			total := shoot.TotalArrows()
			return total > 0 && total%dozen == 0 && shoot.Leader() != nil
		},
		Format: func(shoot *models.Shoot) (string, string) {
			leader := shoot.Leader()
			return "Shoot " + shoot.Code + " leader",
				fmt.Sprintf("%s leads with %d points (%s)", leader.ArcherName, leader.TotalScore, utils.FormatRoundName(leader.RoundName))
		},
	}
}

// CloseCompetition fires when second place is within a few points of a leader
// who has already scored a meaningful total. Opt-in per shoot.
func CloseCompetition() Rule {
	return Rule{
		ID:       RuleCloseCompetition,
		Cooldown: closeCompCooldown,
		Predicate: func(shoot *models.Shoot) bool {
			first, second := shoot.AtPosition(1), shoot.AtPosition(2)
			if first == nil || second == nil {
				return false
			}
			gap := first.TotalScore - second.TotalScore
			return gap > 0 && gap <= closeGap && first.TotalScore > closeLeaderMin
		},
		Format: func(shoot *models.Shoot) (string, string) {
			first, second := shoot.AtPosition(1), shoot.AtPosition(2)
			return "Close competition in shoot " + shoot.Code,
				fmt.Sprintf("%s leads %s by %d points", first.ArcherName, second.ArcherName, first.TotalScore-second.TotalScore)
		},
	}
}
