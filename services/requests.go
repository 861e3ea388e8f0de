package services

import (
	"encoding/json"
	"math"

	"github.com/quii/vue-fast-sub001/models"
)

// ScoreUpdateFromRequest converts a wire score request into a ScoreUpdate.
// Missing, non-numeric, fractional or negative counts are rejected.
func ScoreUpdateFromRequest(req models.ScoreRequest) (ScoreUpdate, error) {
	arrows, ok := wholeNumber(req.ArrowsShot)
	if !ok {
		return ScoreUpdate{}, ErrInvalidArrowsShot
	}
	total, ok := wholeNumber(req.TotalScore)
	if !ok {
		return ScoreUpdate{}, ErrInvalidTotalScore
	}
	return ScoreUpdate{
		ArcherName:     req.ArcherName,
		TotalScore:     total,
		RoundName:      req.RoundName,
		ArrowsShot:     arrows,
		Classification: req.CurrentClassification,
	}, nil
}

func wholeNumber(n *json.Number) (int, bool) {
	if n == nil {
		return 0, false
	}
	if v, err := n.Int64(); err == nil {
		if v < 0 || v > math.MaxInt32 {
			return 0, false
		}
		return int(v), true
	}
	f, err := n.Float64()
	if err != nil || f < 0 || f > math.MaxInt32 || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
