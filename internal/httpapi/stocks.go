package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"stockpit/internal/domain"
)

// createStockRequest is the body for POST /api/stocks.
type createStockRequest struct {
	Code   string        `json:"code"`
	Name   string        `json:"name"`
	Market domain.Market `json:"market"`
	Tags   []string      `json:"tags"`
}

func (s *Server) handleListStocks(w http.ResponseWriter, r *http.Request) {
	stocks, err := s.stocks.ListStocks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if stocks == nil {
		stocks = []domain.Stock{}
	}
	writeJSON(w, stocks)
}

func (s *Server) handleCreateStock(w http.ResponseWriter, r *http.Request) {
	var req createStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	if req.Market == "" {
		req.Market = domain.MarketUS
	}

	existing, err := s.stocks.GetStock(r.Context(), req.Code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "stock already tracked")
		return
	}

	stock := &domain.Stock{
		Code:      req.Code,
		Name:      req.Name,
		Market:    req.Market,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.stocks.SaveStock(r.Context(), stock); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, tag := range req.Tags {
		if err := s.stocks.AddTag(r.Context(), req.Code, tag); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	stock.Tags = req.Tags

	s.log.Info("stock tracked", "code", req.Code)
	writeJSONStatus(w, http.StatusCreated, stock)
}

func (s *Server) handleDeleteStock(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	existing, err := s.stocks.GetStock(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "stock not found")
		return
	}
	if err := s.stocks.DeleteStock(r.Context(), code); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info("stock untracked", "code", code)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddTag(w http.ResponseWriter, r *http.Request) {
	code, tag := r.PathValue("code"), r.PathValue("tag")
	existing, err := s.stocks.GetStock(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "stock not found")
		return
	}
	if err := s.stocks.AddTag(r.Context(), code, tag); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveTag(w http.ResponseWriter, r *http.Request) {
	code, tag := r.PathValue("code"), r.PathValue("tag")
	if err := s.stocks.RemoveTag(r.Context(), code, tag); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	strategy := r.URL.Query().Get("strategy")
	limit := queryInt(r, "limit", 50)

	signals, err := s.signals.ListSignals(r.Context(), strategy, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if signals == nil {
		signals = []domain.Signal{}
	}
	writeJSON(w, signals)
}
