package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/quii/vue-fast-sub001/models"
)

// Score is an archer's absolute running score as sent by either transport.
type Score struct {
	ArcherName            string  `json:"archerName"`
	TotalScore            int     `json:"totalScore"`
	RoundName             string  `json:"roundName"`
	ArrowsShot            int     `json:"arrowsShot"`
	CurrentClassification *string `json:"currentClassification,omitempty"`
}

// Realtime runs the shoot operations over a Conn.
type Realtime struct {
	conn *Conn
}

func NewRealtime(conn *Conn) *Realtime {
	return &Realtime{conn: conn}
}

func (r *Realtime) Conn() *Conn {
	return r.conn
}

func (r *Realtime) GetShoot(ctx context.Context, code string) (*models.Shoot, error) {
	return r.call(ctx, models.EnvelopeGetShoot, code, nil)
}

// JoinShoot joins and, as the server subscribes joiners, remembers the
// subscription for reconnects.
func (r *Realtime) JoinShoot(ctx context.Context, code, archerName, roundName string) (*models.Shoot, error) {
	shoot, err := r.call(ctx, models.EnvelopeJoinShoot, code, models.JoinRequest{ArcherName: archerName, RoundName: roundName})
	if err != nil {
		return nil, err
	}
	r.conn.remember(code)
	return shoot, nil
}

func (r *Realtime) UpdateScore(ctx context.Context, code string, score Score) (*models.Shoot, error) {
	return r.call(ctx, models.EnvelopeUpdateScore, code, score)
}

func (r *Realtime) FinishShoot(ctx context.Context, code string, score Score) (*models.Shoot, error) {
	return r.call(ctx, models.EnvelopeFinishShoot, code, score)
}

func (r *Realtime) LeaveShoot(ctx context.Context, code, archerName string) (*models.Shoot, error) {
	return r.call(ctx, models.EnvelopeLeaveShoot, code, models.LeaveRequest{ArcherName: archerName})
}

func (r *Realtime) Subscribe(ctx context.Context, code string) (*models.Shoot, error) {
	return r.conn.Subscribe(ctx, code)
}

func (r *Realtime) Unsubscribe(ctx context.Context, code string) error {
	return r.conn.Unsubscribe(ctx, code)
}

func (r *Realtime) call(ctx context.Context, typ models.EnvelopeType, code string, payload any) (*models.Shoot, error) {
	env := models.Envelope{Type: typ, ShootCode: code}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", typ, err)
		}
		env.Data = data
	}
	reply, err := r.conn.SendRequest(ctx, env)
	if err != nil {
		return nil, err
	}
	return decodeShoot(reply)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
