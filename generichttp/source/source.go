// Package source exposes control of programmable power supplies over HTTP
package source

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.jpl.nasa.gov/bdube/ivtrace/psu"
)

// FloatT is a struct with a single field F64, used for JSON bodies
// of the form {"f64": 1.234}
type FloatT struct {
	F64 float64 `json:"f64"`
}

// HTTPSource wraps a power supply in an HTTP route table.
// The supply interface has no setpoint queries, so the wrapper remembers the
// last values it commanded and serves those on the GET routes.
type HTTPSource struct {
	psu.Source

	router chi.Router

	vSet float64
	iSet float64
}

// NewHTTPSource wraps a supply and populates its routes
func NewHTTPSource(s psu.Source) *HTTPSource {
	h := &HTTPSource{Source: s}
	r := chi.NewRouter()
	r.Get("/voltage-setpoint", h.getVoltageSetpoint)
	r.Post("/voltage-setpoint", h.setVoltageSetpoint)
	r.Get("/current-limit", h.getCurrentLimit)
	r.Post("/current-limit", h.setCurrentLimit)
	r.Get("/read", h.read)
	r.Get("/capabilities", h.capabilities)
	r.Post("/output-on", h.outputOn)
	r.Post("/output-off", h.outputOff)
	h.router = r
	return h
}

// ServeHTTP implements http.Handler, so an HTTPSource may be mounted on
// any mux
func (h *HTTPSource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func respondFloat(w http.ResponseWriter, f float64) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(FloatT{F64: f})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func popFloat(w http.ResponseWriter, r *http.Request) (float64, bool) {
	f := FloatT{}
	err := json.NewDecoder(r.Body).Decode(&f)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return f.F64, true
}

func (h *HTTPSource) getVoltageSetpoint(w http.ResponseWriter, r *http.Request) {
	respondFloat(w, h.vSet)
}

func (h *HTTPSource) setVoltageSetpoint(w http.ResponseWriter, r *http.Request) {
	f, ok := popFloat(w, r)
	if !ok {
		return
	}
	err := h.SetVoltage(f, false)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.vSet = f
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPSource) getCurrentLimit(w http.ResponseWriter, r *http.Request) {
	respondFloat(w, h.iSet)
}

func (h *HTTPSource) setCurrentLimit(w http.ResponseWriter, r *http.Request) {
	f, ok := popFloat(w, r)
	if !ok {
		return
	}
	err := h.SetCurrent(f, false)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.iSet = f
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPSource) read(w http.ResponseWriter, r *http.Request) {
	rd, err := h.Read(1)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	payload := struct {
		V    float64 `json:"v"`
		I    float64 `json:"i"`
		Mode string  `json:"mode"`
	}{V: rd.V, I: rd.I, Mode: rd.Mode.String()}
	err = json.NewEncoder(w).Encode(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *HTTPSource) capabilities(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(h.Capabilities())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *HTTPSource) outputOn(w http.ResponseWriter, r *http.Request) {
	err := h.TurnOn()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HTTPSource) outputOff(w http.ResponseWriter, r *http.Request) {
	err := h.TurnOff()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
