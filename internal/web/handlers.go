package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"cdpmock/internal/schema"
	"cdpmock/pkg/api"
	"cdpmock/pkg/model"

	"github.com/tidwall/gjson"
)

const maxBodyBytes = 4 << 20

// result 变更类接口的统一响应
type result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type rulesResponse struct {
	Rules []model.Rule `json:"rules"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.svc.GetStatus()
	if st.AttachedTabs == nil {
		st.AttachedTabs = []model.TabID{}
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	v := gjson.GetBytes(body, "enabled")
	if !v.IsBool() {
		writeResult(w, http.StatusBadRequest, errors.New("enabled must be a boolean"))
		return
	}
	s.respond(w, r, "setEnabled", s.svc.SetEnabled(r.Context(), v.Bool()))
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rulesResponse{Rules: s.svc.ListRules()})
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.decodeRule(w, r)
	if !ok {
		return
	}
	s.respond(w, r, "addRule", s.svc.AddRule(r.Context(), rule))
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	rule, ok := s.decodeRule(w, r)
	if !ok {
		return
	}
	s.respond(w, r, "updateRule", s.svc.UpdateRule(r.Context(), index, rule))
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	s.respond(w, r, "deleteRule", s.svc.DeleteRule(r.Context(), index))
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	s.respond(w, r, "toggleRule", s.svc.ToggleRule(r.Context(), index))
}

func (s *Server) handleClearRules(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, "clearAllRules", s.svc.ClearAllRules(r.Context()))
}

func (s *Server) handleRuleSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, schema.RuleSchema())
}

// respond 将服务层错误映射为状态码；越界下标沿用 "Invalid index" 文案
func (s *Server) respond(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result{Success: true})
	case errors.Is(err, api.ErrInvalidIndex):
		writeJSON(w, http.StatusBadRequest, result{Error: "Invalid index"})
	default:
		s.log.Err(err, "控制接口操作失败", "op", op, "path", r.URL.Path)
		writeResult(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) decodeRule(w http.ResponseWriter, r *http.Request) (model.Rule, bool) {
	body, ok := s.readBody(w, r)
	if !ok {
		return model.Rule{}, false
	}
	rule, err := s.validator.DecodeRule(body)
	if err != nil {
		writeResult(w, http.StatusBadRequest, err)
		return model.Rule{}, false
	}
	return rule, true
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeResult(w, http.StatusBadRequest, err)
		return nil, false
	}
	return body, true
}

func pathIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	i, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, result{Error: "Invalid index"})
		return 0, false
	}
	return i, true
}

func writeResult(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, result{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
