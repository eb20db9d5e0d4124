package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/importscout/internal/delivery"
	"github.com/JakeFAU/importscout/internal/ingest"
	"github.com/JakeFAU/importscout/internal/lead"
	"github.com/JakeFAU/importscout/internal/settings"
	"github.com/JakeFAU/importscout/internal/workflow"
)

type scoutRequest struct {
	Product string `json:"product"`
	Region  string `json:"region"`
	Limit   *int   `json:"limit"`
}

type scoutResponse struct {
	RunID      string      `json:"run_id"`
	Leads      []lead.Lead `json:"leads"`
	ArchiveURI string      `json:"archive_uri,omitempty"`
	Total      int         `json:"total"`
}

type webhookRequest struct {
	URL string `json:"url"`
}

type deliveryResponse struct {
	DeliveryID   string `json:"delivery_id,omitempty"`
	Kind         string `json:"kind"`
	Outcome      string `json:"outcome"`
	StatusCode   int    `json:"primary_status,omitempty"`
	Leads        int    `json:"leads,omitempty"`
	PrimaryError string `json:"primary_error,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (s *Server) scout(w http.ResponseWriter, r *http.Request) {
	var req scoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	q, err := s.toQuery(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.runQuery(w, r, q)
}

func (s *Server) runMission(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	q, ok := s.cfg.Missions[name]
	if !ok {
		writeError(w, http.StatusNotFound, "mission not found")
		return
	}
	if q.Limit == 0 {
		q.Limit = s.cfg.Scout.DefaultLimit
	}
	s.runQuery(w, r, q)
}

func (s *Server) runQuery(w http.ResponseWriter, r *http.Request, q lead.Query) {
	if s.deps.Scouter == nil {
		writeError(w, http.StatusServiceUnavailable, "search agent not configured")
		return
	}
	res, err := s.deps.Scouter.Run(r.Context(), q, nil)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ingest.ErrInvalidFormat):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, ingest.ErrAgentUnavailable):
			status = http.StatusBadGateway
		}
		s.logger.Warn("scout run failed",
			zap.String("run_id", res.RunID),
			zap.Int("status", status),
			zap.Error(err),
		)
		writeJSON(w, status, map[string]string{"error": err.Error(), "run_id": res.RunID})
		return
	}
	total := s.deps.Leads.Merge(res.Leads)
	leads := res.Leads
	if leads == nil {
		leads = []lead.Lead{}
	}
	writeJSON(w, http.StatusOK, scoutResponse{
		RunID:      res.RunID,
		Leads:      leads,
		ArchiveURI: res.ArchiveURI,
		Total:      total,
	})
}

func (s *Server) toQuery(req scoutRequest) (lead.Query, error) {
	q := lead.Query{
		Product: strings.TrimSpace(req.Product),
		Region:  strings.TrimSpace(req.Region),
		Limit:   valueOrDefault(req.Limit, s.cfg.Scout.DefaultLimit),
	}
	if q.Product == "" {
		return lead.Query{}, errors.New("product required")
	}
	if q.Region == "" {
		return lead.Query{}, errors.New("region required")
	}
	if q.Limit < 1 || q.Limit > s.cfg.Scout.MaxLimit {
		return lead.Query{}, fmt.Errorf("limit must be between 1 and %d", s.cfg.Scout.MaxLimit)
	}
	return q, nil
}

func (s *Server) listLeads(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"leads": s.deps.Leads.All()})
}

func (s *Server) clearLeads(w http.ResponseWriter, _ *http.Request) {
	removed := s.deps.Leads.Clear()
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) leadStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Leads.Stats())
}

func (s *Server) getWebhook(w http.ResponseWriter, r *http.Request) {
	url, ok := s.webhookURL(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, webhookRequest{URL: url})
}

func (s *Server) putWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.Settings == nil {
		writeError(w, http.StatusServiceUnavailable, "settings store unavailable")
		return
	}
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.deps.Settings.SetWebhookURL(r.Context(), req.URL); err != nil {
		if errors.Is(err, settings.ErrInvalidURL) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("save webhook url failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save webhook url")
		return
	}
	s.getWebhook(w, r)
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Deliverer == nil {
		writeError(w, http.StatusServiceUnavailable, "webhook delivery unavailable")
		return
	}
	url, ok := s.webhookURL(w, r)
	if !ok {
		return
	}
	if url == "" {
		writeError(w, http.StatusBadRequest, delivery.ErrNoEndpoint.Error())
		return
	}
	leads := s.deps.Leads.All()
	if len(leads) == 0 {
		writeError(w, http.StatusBadRequest, "no leads to sync")
		return
	}
	res, err := s.deps.Deliverer.DispatchBatch(r.Context(), url, leads, s.cfg.Webhook.User)
	s.writeDelivery(w, res, len(leads), err)
}

func (s *Server) testWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.Deliverer == nil {
		writeError(w, http.StatusServiceUnavailable, "webhook delivery unavailable")
		return
	}
	url, ok := s.webhookURL(w, r)
	if !ok {
		return
	}
	if url == "" {
		writeError(w, http.StatusBadRequest, delivery.ErrNoEndpoint.Error())
		return
	}
	res, err := s.deps.Deliverer.Probe(r.Context(), url)
	s.writeDelivery(w, res, 0, err)
}

func (s *Server) writeDelivery(w http.ResponseWriter, res delivery.Result, leads int, err error) {
	if errors.Is(err, delivery.ErrNoEndpoint) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := deliveryResponse{
		DeliveryID: res.ID,
		Kind:       string(res.Kind),
		Outcome:    string(res.Outcome),
		StatusCode: res.StatusCode,
		Leads:      leads,
	}
	if res.PrimaryErr != nil {
		resp.PrimaryError = res.PrimaryErr.Error()
	}
	switch {
	case res.Outcome == delivery.OutcomeFailed:
		if err == nil {
			err = res.Err
		}
		if err != nil {
			resp.Error = err.Error()
		}
		writeJSON(w, http.StatusBadGateway, resp)
	case err != nil:
		s.logger.Error("delivery failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "delivery failed")
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) webhookURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.deps.Settings == nil {
		return "", true
	}
	url, err := s.deps.Settings.WebhookURL(r.Context())
	if err != nil {
		s.logger.Error("load webhook url failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load webhook url")
		return "", false
	}
	return url, true
}

func (s *Server) workflow(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := scoutRequest{Product: q.Get("product"), Region: q.Get("region")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		req.Limit = &limit
	}
	query, err := s.toQuery(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	url, ok := s.webhookURL(w, r)
	if !ok {
		return
	}
	doc, err := workflow.Generate(workflow.Params{
		Product:    query.Product,
		Region:     query.Region,
		Limit:      query.Limit,
		WebhookURL: url,
		Model:      s.cfg.Agent.Model,
	})
	if err != nil {
		s.logger.Error("render workflow failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to render workflow")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="importscout-workflow.json"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc); err != nil {
		s.logger.Warn("write workflow failed", zap.Error(err))
	}
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}
