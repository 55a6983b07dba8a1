// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/service"
)

// CampaignService is the part of service.CampaignService the HTTP layer uses.
type CampaignService interface {
	CreateCampaign(ctx context.Context, c *model.Campaign) (*model.Campaign, error)
	RenderPreview(ctx context.Context, campaignID, prospectID int64, overrideTemplate *string) (string, error)
	ListCampaigns(ctx context.Context, page, pageSize int, campaignType, status string) ([]model.Campaign, map[string]int, error)
	GetCampaignDetailsWithStats(ctx context.Context, campaignID int64) (*service.CampaignDetails, error)
	EnqueueCampaign(ctx context.Context, campaignID int64) (*service.EnqueueResult, error)
	PauseCampaign(ctx context.Context, campaignID int64) error
	ResumeCampaign(ctx context.Context, campaignID int64) error
	StopProspect(ctx context.Context, prospectID int64, status string) (int64, error)
}

type CampaignController struct {
	CampaignService CampaignService
	Logger          *zap.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case appErrors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, appErrors.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, appErrors.ErrUnauthorized):
		status = http.StatusUnauthorized
	}
	if status == http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func idParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	campaignID, err := idParam(r, "id")
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	var body struct {
		ProspectID       int64   `json:"prospect_id"`
		OverrideTemplate *string `json:"override_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	rendered, err := c.CampaignService.RenderPreview(r.Context(), campaignID, body.ProspectID, body.OverrideTemplate)
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rendered_message": rendered,
		"used_template":    body.OverrideTemplate,
		"prospect_id":      body.ProspectID,
	})
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name               string   `json:"name"`
		WorkspaceID        int64    `json:"workspace_id"`
		AccountID          int64    `json:"account_id"`
		CampaignType       string   `json:"campaign_type"`
		CountryCode        string   `json:"country_code"`
		Timezone           string   `json:"timezone"`
		WorkingHoursStart  int      `json:"working_hours_start"`
		WorkingHoursEnd    int      `json:"working_hours_end"`
		SkipWeekends       *bool    `json:"skip_weekends"`
		SkipHolidays       *bool    `json:"skip_holidays"`
		DailyLimit         *int     `json:"daily_limit"`
		ConnectionTemplate string   `json:"connection_template"`
		FollowUpTemplates  []string `json:"follow_up_templates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	campaign := &model.Campaign{
		Name:               body.Name,
		WorkspaceID:        body.WorkspaceID,
		AccountID:          body.AccountID,
		CampaignType:       body.CampaignType,
		CountryCode:        body.CountryCode,
		Timezone:           body.Timezone,
		WorkingHoursStart:  body.WorkingHoursStart,
		WorkingHoursEnd:    body.WorkingHoursEnd,
		SkipWeekends:       body.SkipWeekends == nil || *body.SkipWeekends,
		SkipHolidays:       body.SkipHolidays == nil || *body.SkipHolidays,
		DailyLimit:         body.DailyLimit,
		ConnectionTemplate: body.ConnectionTemplate,
		FollowUpTemplates:  pq.StringArray(body.FollowUpTemplates),
	}

	created, err := c.CampaignService.CreateCampaign(r.Context(), campaign)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	campaignType := r.URL.Query().Get("campaign_type")
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, campaignType, status)
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination, // already contains total_count, total_pages, page, page_size
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	details, err := c.CampaignService.GetCampaignDetailsWithStats(r.Context(), id)
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}

	writeJSON(w, http.StatusOK, details)
}

// EnqueueCampaign schedules the campaign's sequences and activates it.
func (c *CampaignController) EnqueueCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	result, err := c.CampaignService.EnqueueCampaign(r.Context(), id)
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	c.changeStatus(w, r, c.CampaignService.PauseCampaign, model.CampaignStatusPaused)
}

func (c *CampaignController) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	c.changeStatus(w, r, c.CampaignService.ResumeCampaign, model.CampaignStatusActive)
}

func (c *CampaignController) changeStatus(w http.ResponseWriter, r *http.Request, apply func(context.Context, int64) error, status string) {
	id, err := idParam(r, "id")
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}
	if err := apply(r.Context(), id); err != nil {
		writeError(w, c.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"campaign_id": id, "status": status})
}

func (c *CampaignController) StopProspect(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		http.Error(w, "invalid prospect id", http.StatusBadRequest)
		return
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	cancelled, err := c.CampaignService.StopProspect(r.Context(), id, body.Status)
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"prospect_id":     id,
		"status":          body.Status,
		"items_cancelled": cancelled,
	})
}
