// Package server exposes surface builds and the pricing functions over
// HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/contactkeval/vol-surface/internal/engine"
	"github.com/contactkeval/vol-surface/internal/logger"
	"github.com/contactkeval/vol-surface/internal/pricing"
	"github.com/contactkeval/vol-surface/internal/surface"
)

// Server routes REST requests to an engine.
type Server struct {
	eng    *engine.Engine
	router *mux.Router
}

// New builds the router:
//
//	GET  /health
//	GET  /surface?ticker=&kind=&rate=&dividend=
//	POST /run                  surface for the configured defaults
//	GET  /implied-vol?price=&spot=&strike=&t=&rate=&dividend=&kind=
//	GET  /price?spot=&strike=&t=&vol=&rate=&dividend=&kind=
func New(eng *engine.Engine) *Server {
	s := &Server{eng: eng, router: mux.NewRouter()}

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/surface", s.handleSurface).Methods("GET")
	s.router.HandleFunc("/run", s.handleSurface).Methods("POST")
	s.router.HandleFunc("/implied-vol", s.handleImpliedVol).Methods("GET")
	s.router.HandleFunc("/price", s.handlePrice).Methods("GET")
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleSurface(w http.ResponseWriter, r *http.Request) {
	cfg := s.eng.Config().Clone()
	q := r.URL.Query()
	if v := q.Get("ticker"); v != "" {
		cfg.Underlying = v
	}
	if v := q.Get("kind"); v != "" {
		cfg.KindName = v
	}
	if v := q.Get("rate"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("rate: %w", err))
			return
		}
		cfg.RiskFreeRate = &rate
	}
	if v := q.Get("dividend"); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("dividend: %w", err))
			return
		}
		cfg.DividendYield = d
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	logger.Infof("surface request: %s %s", cfg.Underlying, cfg.Kind)
	res, err := s.eng.WithConfig(cfg).Run(r.Context())
	switch {
	case errors.Is(err, surface.ErrInsufficientData):
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	case err != nil:
		logger.Errorf("surface %s failed: %v", cfg.Underlying, err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type impliedVolResponse struct {
	ImpliedVol *float64 `json:"implied_vol"`
	Defined    bool     `json:"defined"`
}

func (s *Server) handleImpliedVol(w http.ResponseWriter, r *http.Request) {
	p, err := paramsFromQuery(r, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	price, err := floatParam(r, "price", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	iv, ok, err := pricing.ImpliedVolatility(price, p, s.eng.Config().IVOptions()...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp := impliedVolResponse{Defined: ok}
	if ok {
		resp.ImpliedVol = &iv
	}
	writeJSON(w, http.StatusOK, resp)
}

type priceResponse struct {
	Price float64 `json:"price"`
	Vega  float64 `json:"vega"`
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	p, err := paramsFromQuery(r, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	price, err := pricing.Price(p)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	vega, err := pricing.Vega(p)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{Price: price, Vega: vega})
}

// paramsFromQuery reads spot, strike, t, rate, dividend and kind; vol
// only when withVol is set. rate and dividend default to zero, kind to
// call.
func paramsFromQuery(r *http.Request, withVol bool) (pricing.Params, error) {
	var p pricing.Params
	var err error
	if p.Spot, err = floatParam(r, "spot", true); err != nil {
		return p, err
	}
	if p.Strike, err = floatParam(r, "strike", true); err != nil {
		return p, err
	}
	if p.TimeToExpiry, err = floatParam(r, "t", true); err != nil {
		return p, err
	}
	if p.Rate, err = floatParam(r, "rate", false); err != nil {
		return p, err
	}
	if p.DividendYield, err = floatParam(r, "dividend", false); err != nil {
		return p, err
	}
	if withVol {
		if p.Volatility, err = floatParam(r, "vol", true); err != nil {
			return p, err
		}
	}
	p.Kind = pricing.Call
	if k := r.URL.Query().Get("kind"); k != "" {
		if p.Kind, err = pricing.ParseKind(k); err != nil {
			return p, err
		}
	}
	return p, nil
}

func floatParam(r *http.Request, name string, required bool) (float64, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		if required {
			return 0, fmt.Errorf("missing query parameter %q", name)
		}
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("query parameter %q: %w", name, err)
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
