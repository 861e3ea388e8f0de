package handlers

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/quii/vue-fast-sub001/models"
	"github.com/quii/vue-fast-sub001/services"
)

// ShootService is what the HTTP surface needs from the shoot service.
type ShootService interface {
	CreateShoot(ctx context.Context, creatorName string) (*models.Shoot, error)
	GetShoot(ctx context.Context, code string) (*models.Shoot, error)
	JoinShoot(ctx context.Context, code, archerName, roundName string) (*models.Shoot, error)
	UpdateScore(ctx context.Context, code string, update services.ScoreUpdate) (*models.Shoot, error)
	FinishShoot(ctx context.Context, code string, update services.ScoreUpdate) (*models.Shoot, error)
	LeaveShoot(ctx context.Context, code, archerName string) (*models.Shoot, error)
}

type ShootHandler struct {
	shootService ShootService
}

func NewShootHandler(ss ShootService) *ShootHandler {
	return &ShootHandler{
		shootService: ss,
	}
}

type createShootInput struct {
	CreatorName string `json:"creatorName"`
}

// CreateShoot godoc
// @Summary Create a shoot
// @Tags shoots
// @Accept json
// @Produce json
// @Param input body createShootInput true "Creator"
// @Success 201 {object} models.ShootResponse
// @Failure 400 {object} map[string]interface{} "Missing creator name"
// @Router /shoots [post]
func (h *ShootHandler) CreateShoot(w http.ResponseWriter, r *http.Request) {
	var input createShootInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	shoot, err := h.shootService.CreateShoot(r.Context(), input.CreatorName)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := models.ShootResponse{Success: true, Code: shoot.Code, Shoot: shoot}
	if err := writeJSON(w, http.StatusCreated, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetShoot godoc
// @Summary Get a shoot by code
// @Tags shoots
// @Produce json
// @Param code path string true "Shoot code"
// @Success 200 {object} models.ShootResponse
// @Failure 404 {object} map[string]interface{} "Unknown or expired shoot"
// @Router /shoots/{code} [get]
func (h *ShootHandler) GetShoot(w http.ResponseWriter, r *http.Request) {
	code, err := getCodeFromURL(r)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	shoot, err := h.shootService.GetShoot(r.Context(), code)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	h.writeShoot(w, r, shoot)
}

// JoinShoot godoc
// @Summary Join a shoot
// @Tags shoots
// @Accept json
// @Produce json
// @Param code path string true "Shoot code"
// @Param input body models.JoinRequest true "Archer"
// @Success 200 {object} models.ShootResponse
// @Failure 400 {object} map[string]interface{} "Missing archer name"
// @Failure 404 {object} map[string]interface{} "Unknown or expired shoot"
// @Failure 409 {object} map[string]interface{} "Archer name already taken"
// @Router /shoots/{code}/join [post]
func (h *ShootHandler) JoinShoot(w http.ResponseWriter, r *http.Request) {
	code, err := getCodeFromURL(r)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input models.JoinRequest
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	shoot, err := h.shootService.JoinShoot(r.Context(), code, input.ArcherName, input.RoundName)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	h.writeShoot(w, r, shoot)
}

// UpdateScore godoc
// @Summary Report an archer's running score
// @Description Scores are absolute values, so resending the same update is harmless.
// @Tags shoots
// @Accept json
// @Produce json
// @Param code path string true "Shoot code"
// @Param input body models.ScoreRequest true "Score"
// @Success 200 {object} models.ShootResponse
// @Failure 400 {object} map[string]interface{} "Missing, negative or non-numeric values"
// @Failure 404 {object} map[string]interface{} "Unknown shoot or archer"
// @Failure 409 {object} map[string]interface{} "Archer already finished"
// @Router /shoots/{code}/score [put]
func (h *ShootHandler) UpdateScore(w http.ResponseWriter, r *http.Request) {
	h.applyScore(w, r, h.shootService.UpdateScore)
}

// FinishShoot godoc
// @Summary Record an archer's final score
// @Tags shoots
// @Accept json
// @Produce json
// @Param code path string true "Shoot code"
// @Param input body models.ScoreRequest true "Final score"
// @Success 200 {object} models.ShootResponse
// @Failure 400 {object} map[string]interface{} "Missing, negative or non-numeric values"
// @Failure 404 {object} map[string]interface{} "Unknown shoot or archer"
// @Failure 409 {object} map[string]interface{} "Archer already finished"
// @Router /shoots/{code}/finish [put]
func (h *ShootHandler) FinishShoot(w http.ResponseWriter, r *http.Request) {
	h.applyScore(w, r, h.shootService.FinishShoot)
}

func (h *ShootHandler) applyScore(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, code string, update services.ScoreUpdate) (*models.Shoot, error),
) {
	code, err := getCodeFromURL(r)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input models.ScoreRequest
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	update, err := services.ScoreUpdateFromRequest(input)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	shoot, err := apply(r.Context(), code, update)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	h.writeShoot(w, r, shoot)
}

// LeaveShoot godoc
// @Summary Remove an archer from a shoot
// @Tags shoots
// @Produce json
// @Param code path string true "Shoot code"
// @Param archerName path string true "Archer name"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{} "Unknown shoot or archer"
// @Router /shoots/{code}/archer/{archerName} [delete]
func (h *ShootHandler) LeaveShoot(w http.ResponseWriter, r *http.Request) {
	code, err := getCodeFromURL(r)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	archerName, err := url.PathUnescape(chi.URLParam(r, "archerName"))
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	if _, err := h.shootService.LeaveShoot(r.Context(), code, archerName); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"success": true}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *ShootHandler) writeShoot(w http.ResponseWriter, r *http.Request, shoot *models.Shoot) {
	response := models.ShootResponse{Success: true, Shoot: shoot}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
