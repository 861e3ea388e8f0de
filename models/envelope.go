package models

import "encoding/json"

// EnvelopeType enumerates the frames exchanged over the realtime channel.
type EnvelopeType string

const (
	EnvelopeSubscribe    EnvelopeType = "subscribe"
	EnvelopeUnsubscribe  EnvelopeType = "unsubscribe"
	EnvelopeJoinShoot    EnvelopeType = "join-shoot"
	EnvelopeUpdateScore  EnvelopeType = "update-score"
	EnvelopeFinishShoot  EnvelopeType = "finish-shoot"
	EnvelopeLeaveShoot   EnvelopeType = "leave-shoot"
	EnvelopeGetShoot     EnvelopeType = "get-shoot"
	EnvelopeNotification EnvelopeType = "notification"
	EnvelopeResponse     EnvelopeType = "response"
	EnvelopeError        EnvelopeType = "error"
)

type Envelope struct {
	Type      EnvelopeType    `json:"type"`
	ShootCode string          `json:"shootCode,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Error codes carried by error envelopes.
const (
	ErrorCodeValidation = "validation"
	ErrorCodeNotFound   = "not_found"
	ErrorCodeConflict   = "conflict"
	ErrorCodeBadRequest = "bad_request"
	ErrorCodeInternal   = "internal"
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JoinRequest is the data of a join-shoot frame and the body of POST /shoots/{code}/join.
type JoinRequest struct {
	ArcherName string `json:"archerName"`
	RoundName  string `json:"roundName"`
}

// ScoreRequest is the data of update-score and finish-shoot frames.
// Numeric fields are json.Number so that numeric strings are accepted and
// missing values can be told apart from zero.
type ScoreRequest struct {
	ArcherName            string       `json:"archerName"`
	TotalScore            *json.Number `json:"totalScore"`
	RoundName             string       `json:"roundName"`
	ArrowsShot            *json.Number `json:"arrowsShot"`
	CurrentClassification *string      `json:"currentClassification,omitempty"`
}

type LeaveRequest struct {
	ArcherName string `json:"archerName"`
}

// ShootResponse is the data of a successful response frame.
type ShootResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Shoot   *Shoot `json:"shoot,omitempty"`
}
