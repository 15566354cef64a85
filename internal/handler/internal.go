package handler

import (
	"net/http"

	"go.uber.org/multierr"

	"github.com/pkordes/stopalert/internal/domain"
	"github.com/pkordes/stopalert/internal/service"
)

// DispatchResponse is the CycleReport plus any store errors the cycle hit.
type DispatchResponse struct {
	service.CycleReport
	Errors []string `json:"errors,omitempty"`
}

// SourcesResponse is the body of GET /internal/sources.
type SourcesResponse struct {
	Data []domain.SourceHealth `json:"data"`
}

// PostDispatch handles POST /internal/dispatch. It runs one cycle inline and
// answers 500 if the cycle hit store errors, with the report either way.
func (s *Server) PostDispatch(w http.ResponseWriter, r *http.Request) {
	report, err := s.dispatcher.RunCycle(r.Context())

	resp := DispatchResponse{CycleReport: report}
	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
		for _, e := range multierr.Errors(err) {
			resp.Errors = append(resp.Errors, e.Error())
		}
	}
	writeJSON(w, status, resp)
}

// GetSources handles GET /internal/sources.
func (s *Server) GetSources(w http.ResponseWriter, _ *http.Request) {
	data := s.health.Snapshot()
	if data == nil {
		data = []domain.SourceHealth{}
	}
	writeJSON(w, http.StatusOK, SourcesResponse{Data: data})
}
