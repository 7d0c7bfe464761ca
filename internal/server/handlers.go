package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/signalpath/enrich-cli/internal/enrich"
	"github.com/signalpath/enrich-cli/internal/icp"
	"github.com/signalpath/enrich-cli/internal/loosejson"
	"github.com/signalpath/enrich-cli/pkg/llm"
)

// systemPrompt frames the enrichment conversation for the model.
const systemPrompt = `You are a contact enrichment assistant. The user has uploaded a contact list. ` +
	`Use the available tools to resolve each contact to a person identity and fetch profile data. ` +
	`Resolve identities before fetching profiles, batch identifiers where the tools allow it, ` +
	`and finish with a short summary of what was resolved and enriched.`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type uploadedData struct {
	Rows           []enrich.Row          `json:"rows"`
	Headers        []string              `json:"headers"`
	DetectedFields enrich.DetectedFields `json:"detectedFields"`
}

type enrichRequest struct {
	Messages     []chatMessage `json:"messages"`
	UploadedData uploadedData  `json:"uploadedData"`
}

type enrichResponse struct {
	Response      string             `json:"response"`
	ToolCalls     []enrich.ToolCall  `json:"toolCalls"`
	EnrichedData  []enrich.Row       `json:"enrichedData"`
	ExportLinks   []string           `json:"exportLinks"`
	ResolvedCount int                `json:"resolvedCount"`
	EnrichedCount int                `json:"enrichedCount"`
	ICPAnalysis   *icp.Analysis      `json:"icpAnalysis,omitempty"`
	Warnings      []string           `json:"warnings,omitempty"`
}

type estimateRequest struct {
	SelectedAttributes []icp.Attribute   `json:"selectedAttributes"`
	ClusterIDs         map[string]string `json:"clusterIds"`
}

type estimateResponse struct {
	Estimate int64 `json:"estimate"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages are required", "")
		return
	}
	if len(req.UploadedData.Rows) == 0 {
		writeError(w, http.StatusBadRequest, "uploadedData.rows are required", "")
		return
	}

	messages := make([]llm.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := m.Role
		if role != llm.RoleAssistant {
			role = llm.RoleUser
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}

	ctx := r.Context()
	outcome, err := s.runner.Run(ctx, systemPrompt, messages)
	if err != nil {
		writeError(w, http.StatusBadGateway, "enrichment conversation failed", err.Error())
		return
	}

	result, err := s.reconciler.Reconcile(ctx, outcome.ToolCalls, req.UploadedData.Rows, req.UploadedData.DetectedFields)
	if err != nil {
		writeError(w, http.StatusBadGateway, "reconciliation failed", err.Error())
		return
	}

	resp := enrichResponse{
		Response:      outcome.Response,
		ToolCalls:     outcome.ToolCalls,
		EnrichedData:  result.Rows,
		ExportLinks:   result.ExportLinks,
		ResolvedCount: result.ResolvedCount(),
		EnrichedCount: result.EnrichedCount(),
		Warnings:      append(outcome.Warnings, result.Warnings...),
	}
	if result.EnrichedCount() > 0 {
		resp.ICPAnalysis = icp.Analyze(result.Rows)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if len(req.SelectedAttributes) == 0 {
		writeError(w, http.StatusBadRequest, "selectedAttributes are required", "")
		return
	}

	expr := icp.BuildClusterExpression(req.SelectedAttributes, req.ClusterIDs)
	if expr == "" {
		// Nothing maps to a cluster id; the audience is empty by definition.
		writeJSON(w, http.StatusOK, estimateResponse{Estimate: 0})
		return
	}

	res, err := s.gateway.Execute(r.Context(), s.audienceTool, map[string]any{
		"expression": expr,
		"count_only": true,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, "audience estimation failed", err.Error())
		return
	}
	if res.IsError() {
		writeError(w, http.StatusBadGateway, "audience estimation failed", res.Text())
		return
	}

	writeJSON(w, http.StatusOK, estimateResponse{Estimate: parseEstimate(res.Text())})
}

// parseEstimate reads the count out of the estimation tool's reply, which is
// either a bare number or an object carrying one.
func parseEstimate(text string) int64 {
	decoded := loosejson.Decode(strings.TrimSpace(text))
	switch v := decoded.(type) {
	case float64:
		return int64(v)
	case map[string]any:
		for _, key := range []string{"count", "estimate", "total"} {
			if n, ok := v[key].(float64); ok {
				return int64(n)
			}
		}
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Error("write response", zap.Error(err))
	}
}

// writeError emits the flat {error, details?} shape.
func writeError(w http.ResponseWriter, status int, msg, details string) {
	body := map[string]string{"error": msg}
	if details != "" {
		body["details"] = details
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Int("status", status), zap.String("error", msg), zap.String("details", details))
	}
	writeJSON(w, status, body)
}
