package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/teilomillet/lectern/completion"
	"github.com/teilomillet/lectern/errors"
	"github.com/teilomillet/lectern/pipeline"
	"github.com/teilomillet/lectern/schema"
	"github.com/teilomillet/lectern/server/middleware"
)

const maxBodyBytes = 1 << 20

// Generator is the part of pipeline.Generator the handlers use.
type Generator interface {
	Generate(ctx context.Context, job pipeline.Job) (*pipeline.Output, error)
	Chat(ctx context.Context, job pipeline.Job) (*pipeline.Output, error)
	Schemas() *schema.Registry
}

// GenerateRequest is the body of POST /v1/generate/{schema}.
type GenerateRequest struct {
	Instruction string `json:"instruction" validate:"required"`
	// Template is an optional literal JSON object the answer must follow.
	Template    json.RawMessage `json:"template,omitempty"`
	System      string          `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	Temperature float64         `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`

	UserID  string `json:"user_id,omitempty" validate:"omitempty,max=128"`
	ChildID string `json:"child_id,omitempty" validate:"omitempty,max=128"`
	Context string `json:"context,omitempty" validate:"omitempty,max=256"`
}

// GenerateResponse is returned by POST /v1/generate/{schema}.
type GenerateResponse struct {
	RequestID  string         `json:"request_id"`
	Schema     string         `json:"schema"`
	Version    int            `json:"version"`
	Strategy   string         `json:"strategy"`
	Default    bool           `json:"default"`
	Fields     map[string]any `json:"fields"`
	Calls      int            `json:"calls"`
	StopReason string         `json:"stop_reason"`
	AuditID    string         `json:"audit_id,omitempty"`
}

// ChatMessage is one prior turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Prompt     string        `json:"prompt" validate:"required"`
	History    []ChatMessage `json:"history,omitempty" validate:"omitempty,dive"`
	System     string        `json:"system,omitempty"`
	ExpectList bool          `json:"expect_list,omitempty"`
	MaxTokens  int           `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`

	UserID  string `json:"user_id,omitempty" validate:"omitempty,max=128"`
	ChildID string `json:"child_id,omitempty" validate:"omitempty,max=128"`
	Context string `json:"context,omitempty" validate:"omitempty,max=256"`
}

// ChatResponse is returned by POST /v1/chat.
type ChatResponse struct {
	RequestID  string `json:"request_id"`
	Text       string `json:"text"`
	Calls      int    `json:"calls"`
	StopReason string `json:"stop_reason"`
	AuditID    string `json:"audit_id,omitempty"`
}

// SchemaInfo describes one registered schema.
type SchemaInfo struct {
	Name       string          `json:"name"`
	Version    int             `json:"version"`
	Prose      bool            `json:"prose"`
	Required   []string        `json:"required,omitempty"`
	Template   json.RawMessage `json:"template,omitempty"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

// Handler serves the API.
type Handler struct {
	gen      Generator
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandler returns a Handler over gen.
func NewHandler(gen Generator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		gen:      gen,
		validate: validator.New(),
		logger:   logger,
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Schemas lists every registered schema with its template.
func (h *Handler) Schemas(w http.ResponseWriter, r *http.Request) {
	reg := h.gen.Schemas()
	names := reg.Names()
	out := make([]SchemaInfo, 0, len(names))
	for _, name := range names {
		def, _ := reg.Lookup(name)
		info := SchemaInfo{
			Name:     def.Name,
			Version:  def.Version,
			Prose:    def.Prose,
			Required: def.Required(),
		}
		if !def.Prose {
			tmpl, err := def.Template()
			if err != nil {
				h.fail(w, r, errors.NewInternalError(middleware.GetRequestID(r.Context()), err))
				return
			}
			js, err := def.JSONSchema()
			if err != nil {
				h.fail(w, r, errors.NewInternalError(middleware.GetRequestID(r.Context()), err))
				return
			}
			info.Template = json.RawMessage(tmpl)
			info.JSONSchema = json.RawMessage(js)
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"schemas": out})
}

// Generate handles POST /v1/generate/{schema}.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req GenerateRequest
	if !h.decode(w, r, &req) {
		return
	}

	job := pipeline.Job{
		RequestID:   requestID,
		Schema:      chi.URLParam(r, "schema"),
		Instruction: req.Instruction,
		System:      req.System,
		UserID:      req.UserID,
		ChildID:     req.ChildID,
		Context:     req.Context,
	}
	if len(req.Template) > 0 && string(req.Template) != "null" {
		job.Template = string(req.Template)
	}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		job.Tuning = &completion.Tuning{MaxTokens: req.MaxTokens, Temperature: req.Temperature}
	}

	out, err := h.gen.Generate(r.Context(), job)
	if err != nil {
		h.fail(w, r, errors.WithRequestID(err, requestID))
		return
	}

	resp := GenerateResponse{
		RequestID:  requestID,
		Calls:      out.Calls,
		StopReason: string(out.Stop),
		AuditID:    out.AuditID,
	}
	if rec := out.Record; rec != nil {
		resp.Schema = rec.Schema
		resp.Version = rec.Version
		resp.Strategy = rec.Strategy
		resp.Default = rec.Default
		resp.Fields = rec.Fields
	} else {
		// Prose schema requested through the generate route.
		resp.Schema = job.Schema
		resp.Fields = map[string]any{"text": out.Text}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Chat handles POST /v1/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req ChatRequest
	if !h.decode(w, r, &req) {
		return
	}

	history := make([]completion.Message, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, completion.Message{Role: completion.Role(m.Role), Content: m.Content})
	}
	job := pipeline.Job{
		RequestID:   requestID,
		Instruction: req.Prompt,
		System:      req.System,
		History:     history,
		ExpectList:  req.ExpectList,
		UserID:      req.UserID,
		ChildID:     req.ChildID,
		Context:     req.Context,
	}
	if req.MaxTokens > 0 {
		job.Tuning = &completion.Tuning{MaxTokens: req.MaxTokens}
	}

	out, err := h.gen.Chat(r.Context(), job)
	if err != nil {
		h.fail(w, r, errors.WithRequestID(err, requestID))
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{
		RequestID:  requestID,
		Text:       out.Text,
		Calls:      out.Calls,
		StopReason: string(out.Stop),
		AuditID:    out.AuditID,
	})
}

// decode reads and validates a JSON body into v. On failure it writes the
// error response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	requestID := middleware.GetRequestID(r.Context())

	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		h.fail(w, r, errors.NewValidationError(requestID, "Content-Type must be application/json",
			map[string]interface{}{"content_type": ct}))
		return false
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		h.fail(w, r, errors.NewValidationError(requestID, "Invalid request body",
			map[string]interface{}{"error": err.Error()}))
		return false
	}

	if err := h.validate.Struct(v); err != nil {
		details := map[string]interface{}{}
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				details[fe.Namespace()] = fe.Tag()
			}
		}
		h.fail(w, r, errors.NewValidationError(requestID, "Request validation failed", details))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err *errors.LecternError) {
	if err.Code >= http.StatusInternalServerError {
		errors.LogError(h.logger, err, err.RequestID)
	} else {
		h.logger.Debug("request rejected",
			zap.String("request_id", err.RequestID),
			zap.String("path", r.URL.Path),
			zap.String("error_type", string(err.Type)),
			zap.String("message", err.Message),
		)
	}
	errors.WriteError(w, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
