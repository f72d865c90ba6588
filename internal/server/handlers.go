package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ArionMiles/obligations/pkg/api"
	"github.com/ArionMiles/obligations/pkg/calendar"
	"github.com/ArionMiles/obligations/pkg/events"
	"github.com/ArionMiles/obligations/pkg/ingest"
	"github.com/ArionMiles/obligations/pkg/parser/nfce"
)

// Obligations.

type createResponse struct {
	ObligationID string `json:"obligationId"`
	Generated    int    `json:"generated"`
	Warning      string `json:"warning,omitempty"`
}

func (s *Server) handleCreateObligation(w http.ResponseWriter, r *http.Request) {
	var form events.Form
	if err := decode(w, r, &form); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.Events.Create(r.Context(), ownerFrom(r), form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := createResponse{ObligationID: res.ObligationID, Generated: res.Generated}
	if res.ScheduleErr != nil {
		resp.Warning = "obligation saved, but its future occurrences could not be generated"
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleUpdateObligation(w http.ResponseWriter, r *http.Request) {
	var form events.UpdateForm
	if err := decode(w, r, &form); err != nil {
		s.writeError(w, r, err)
		return
	}

	o, err := s.deps.Events.Update(r.Context(), ownerFrom(r), mux.Vars(r)["id"], form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleGetObligation(w http.ResponseWriter, r *http.Request) {
	o, err := s.deps.Store.GetObligation(r.Context(), ownerFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, storeErr("loading obligation", err))
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleDeleteObligation(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteObligation(r.Context(), ownerFrom(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, storeErr("deleting obligation", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListObligations(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.deps.Store.ListObligations(r.Context(), ownerFrom(r), filter)
	if err != nil {
		s.writeError(w, r, storeErr("listing obligations", err))
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	owner, id := ownerFrom(r), mux.Vars(r)["id"]
	if _, err := s.deps.Store.GetObligation(r.Context(), owner, id); err != nil {
		s.writeError(w, r, storeErr("loading obligation", err))
		return
	}
	items, err := s.deps.Store.ListItemsByObligation(r.Context(), owner, id)
	if err != nil {
		s.writeError(w, r, storeErr("listing document items", err))
		return
	}
	writeJSON(w, http.StatusOK, nonNil(items))
}

// Ingestion.

type previewRequest struct {
	URL string `json:"url"`
}

type previewResponse struct {
	PreviewID string         `json:"previewId"`
	Preview   *nfce.Document `json:"preview"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	doc, err := s.deps.Ingest.Preview(r.Context(), req.URL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	id := s.deps.Previews.Put(ownerFrom(r), doc)
	writeJSON(w, http.StatusOK, previewResponse{PreviewID: id, Preview: doc})
}

type confirmRequest struct {
	Edits ingest.Edits `json:"edits"`
}

type confirmResponse struct {
	ObligationID string `json:"obligationId"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	owner, previewID := ownerFrom(r), mux.Vars(r)["previewId"]

	doc, ok := s.deps.Previews.Get(owner, previewID)
	if !ok {
		s.writeError(w, r, fmt.Errorf("preview %s: %w", previewID, api.ErrNotFound))
		return
	}

	var req confirmRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	id, err := s.deps.Ingest.Confirm(r.Context(), owner, doc, req.Edits)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.deps.Previews.Delete(owner, previewID)
	writeJSON(w, http.StatusCreated, confirmResponse{ObligationID: id})
}

// Reports.

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	today := calendar.FromTime(s.opts.Now().In(s.opts.Location))
	year, month := today.Year, today.Month

	verr := api.NewValidationError()
	if v := r.URL.Query().Get("year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			verr.Add("year", "must be a number")
		}
		year = n
	}
	if v := r.URL.Query().Get("month"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			verr.Add("month", "must be a number")
		}
		month = time.Month(n)
	}
	if err := verr.OrNil(); err != nil {
		s.writeError(w, r, err)
		return
	}

	summary, err := s.deps.Reports.Month(r.Context(), ownerFrom(r), year, month)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCommitments(w http.ResponseWriter, r *http.Request) {
	today := calendar.FromTime(s.opts.Now().In(s.opts.Location))
	buckets, err := s.deps.Reports.Commitments(r.Context(), ownerFrom(r), today)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	exporter, err := NewExporter(r.URL.Query().Get("format"), s.opts.ExportLocalized, s.logger)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	list, err := s.deps.Store.ListObligations(r.Context(), ownerFrom(r), filter)
	if err != nil {
		s.writeError(w, r, storeErr("listing obligations", err))
		return
	}

	var buf bytes.Buffer
	if err := exporter.Write(r.Context(), &buf, list); err != nil {
		s.writeError(w, r, err)
		return
	}

	name := fmt.Sprintf("obligations_%s.%s", s.opts.Now().In(s.opts.Location).Format("20060102"), exporter.Extension())
	w.Header().Set("Content-Type", exporter.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Warn("writing export response", "error", err)
	}
}

// Registries.

type nameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Registry.ListCategories(r.Context(), ownerFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.deps.Registry.CreateCategory(r.Context(), ownerFrom(r), req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Registry.DeleteCategory(r.Context(), ownerFrom(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Registry.ListEntities(r.Context(), ownerFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.deps.Registry.CreateEntity(r.Context(), ownerFrom(r), req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Registry.DeleteEntity(r.Context(), ownerFrom(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Helpers.

// storeErr classifies a raw store error. Not-found errors keep their kind.
func storeErr(op string, err error) error {
	if api.KindOf(err) != api.KindInternal {
		return err
	}
	return &api.PersistenceError{Op: op, Err: err}
}

func parseFilter(r *http.Request) (api.ObligationFilter, error) {
	q := r.URL.Query()
	verr := api.NewValidationError()
	var f api.ObligationFilter

	if v := q.Get("from"); v != "" {
		d, err := calendar.Parse(v)
		if err != nil {
			verr.Add("from", "must be YYYY-MM-DD")
		}
		f.From = d
	}
	if v := q.Get("to"); v != "" {
		d, err := calendar.Parse(v)
		if err != nil {
			verr.Add("to", "must be YYYY-MM-DD")
		}
		f.To = d
	}
	if v := q.Get("status"); v != "" {
		st, err := api.ParseStatus(v)
		if err != nil {
			verr.Add("status", err.Error())
		}
		f.Status = st
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		verr.Add("to", "must not be before from")
	}
	return f, verr.OrNil()
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
