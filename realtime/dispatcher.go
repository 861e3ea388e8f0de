package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/quii/vue-fast-sub001/models"
	"github.com/quii/vue-fast-sub001/services"
)

var (
	errMissingData = errors.New("message data is required")
	errInvalidData = errors.New("message data is not valid JSON for this type")
)

// ShootOperations is the subset of the shoot service the realtime channel exposes.
type ShootOperations interface {
	GetShoot(ctx context.Context, code string) (*models.Shoot, error)
	JoinShoot(ctx context.Context, code, archerName, roundName string) (*models.Shoot, error)
	UpdateScore(ctx context.Context, code string, update services.ScoreUpdate) (*models.Shoot, error)
	FinishShoot(ctx context.Context, code string, update services.ScoreUpdate) (*models.Shoot, error)
	LeaveShoot(ctx context.Context, code, archerName string) (*models.Shoot, error)
}

// Dispatcher turns request envelopes into service calls and builds the reply.
// Every reply echoes the request's requestId.
type Dispatcher struct {
	shoots ShootOperations
	hub    *Hub
	logger *slog.Logger
}

func NewDispatcher(shoots ShootOperations, hub *Hub, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{shoots: shoots, hub: hub, logger: logger}
}

func (d *Dispatcher) Dispatch(ctx context.Context, client *Client, env models.Envelope) models.Envelope {
	code := strings.TrimSpace(env.ShootCode)

	switch env.Type {
	case models.EnvelopeSubscribe:
		shoot, err := d.shoots.GetShoot(ctx, code)
		if err != nil {
			return d.failure(ctx, env, err)
		}
		d.hub.Subscribe(client, code)
		return shootReply(env, shoot)

	case models.EnvelopeUnsubscribe:
		d.hub.Unsubscribe(client, code)
		return reply(env, models.ShootResponse{Success: true, Code: code})

	case models.EnvelopeGetShoot:
		shoot, err := d.shoots.GetShoot(ctx, code)
		if err != nil {
			return d.failure(ctx, env, err)
		}
		return shootReply(env, shoot)

	case models.EnvelopeJoinShoot:
		var req models.JoinRequest
		if err := decodeData(env, &req); err != nil {
			return errorEnvelope(env, models.ErrorCodeBadRequest, err.Error())
		}
		// Subscribe first so the joiner does not miss notifications that
		// race with the reply.
		watching := d.hub.subscribed(client, code)
		d.hub.Subscribe(client, code)
		shoot, err := d.shoots.JoinShoot(ctx, code, req.ArcherName, req.RoundName)
		if err != nil {
			if !watching {
				d.hub.Unsubscribe(client, code)
			}
			return d.failure(ctx, env, err)
		}
		return shootReply(env, shoot)

	case models.EnvelopeUpdateScore, models.EnvelopeFinishShoot:
		var req models.ScoreRequest
		if err := decodeData(env, &req); err != nil {
			return errorEnvelope(env, models.ErrorCodeBadRequest, err.Error())
		}
		update, err := services.ScoreUpdateFromRequest(req)
		if err != nil {
			return d.failure(ctx, env, err)
		}
		var shoot *models.Shoot
		if env.Type == models.EnvelopeFinishShoot {
			shoot, err = d.shoots.FinishShoot(ctx, code, update)
		} else {
			shoot, err = d.shoots.UpdateScore(ctx, code, update)
		}
		if err != nil {
			return d.failure(ctx, env, err)
		}
		return shootReply(env, shoot)

	case models.EnvelopeLeaveShoot:
		var req models.LeaveRequest
		if err := decodeData(env, &req); err != nil {
			return errorEnvelope(env, models.ErrorCodeBadRequest, err.Error())
		}
		shoot, err := d.shoots.LeaveShoot(ctx, code, req.ArcherName)
		if err != nil {
			return d.failure(ctx, env, err)
		}
		return shootReply(env, shoot)
	}

	return errorEnvelope(env, models.ErrorCodeBadRequest, "unsupported message type "+string(env.Type))
}

func (d *Dispatcher) failure(ctx context.Context, env models.Envelope, err error) models.Envelope {
	switch {
	case services.IsValidation(err):
		return errorEnvelope(env, models.ErrorCodeValidation, err.Error())
	case services.IsNotFound(err):
		return errorEnvelope(env, models.ErrorCodeNotFound, err.Error())
	case services.IsConflict(err):
		return errorEnvelope(env, models.ErrorCodeConflict, err.Error())
	}
	d.logger.ErrorContext(ctx, "realtime request failed",
		slog.String("type", string(env.Type)),
		slog.String("code", env.ShootCode),
		slog.String("request_id", env.RequestID),
		slog.Any("error", err),
	)
	return errorEnvelope(env, models.ErrorCodeInternal, "the server encountered a problem and could not process your request")
}

func decodeData(env models.Envelope, dst any) error {
	if len(env.Data) == 0 {
		return errMissingData
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return errInvalidData
	}
	return nil
}

func shootReply(env models.Envelope, shoot *models.Shoot) models.Envelope {
	return reply(env, models.ShootResponse{Success: true, Code: shoot.Code, Shoot: shoot})
}

func reply(env models.Envelope, payload any) models.Envelope {
	data, _ := json.Marshal(payload)
	return models.Envelope{
		Type:      models.EnvelopeResponse,
		ShootCode: env.ShootCode,
		RequestID: env.RequestID,
		Data:      data,
	}
}

func errorEnvelope(env models.Envelope, code, message string) models.Envelope {
	data, _ := json.Marshal(models.ErrorPayload{Code: code, Message: message})
	return models.Envelope{
		Type:      models.EnvelopeError,
		ShootCode: env.ShootCode,
		RequestID: env.RequestID,
		Data:      data,
	}
}
