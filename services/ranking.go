package services

import (
	"sort"

	"github.com/quii/vue-fast-sub001/models"
)

// rankParticipants assigns dense 1..N positions by total score, highest first,
// and returns the participants whose position changed. participants is kept in
// join order, so the stable sort breaks ties by join order.
//
// PreviousPosition only moves when the position does, which keeps a repeated
// identical update from changing anything.
func rankParticipants(participants []*models.Participant) []*models.Participant {
	order := make([]*models.Participant, len(participants))
	copy(order, participants)
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].TotalScore > order[j].TotalScore
	})

	var moved []*models.Participant
	for i, p := range order {
		position := i + 1
		if p.CurrentPosition == position {
			continue
		}
		if p.CurrentPosition > 0 {
			prev := p.CurrentPosition
			p.PreviousPosition = &prev
			moved = append(moved, p)
		}
		p.CurrentPosition = position
	}
	return moved
}
