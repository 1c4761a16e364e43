package httpapi

import (
	"net/http"
	"os"

	"github.com/paulgrammer/surveyd/internal/notify"
	"github.com/paulgrammer/surveyd/internal/storage"
)

const reportNotReady = "PDF Not Ready Yet"

func (r *router) handleStatistics(w http.ResponseWriter, req *http.Request) {
	stats, err := r.Layout.Statistics(storage.DateFolder(r.Now()))
	if err != nil {
		r.Logger.Error("failed to compute statistics", "error", err)
		respondWithError(w, http.StatusInternalServerError, "failed to compute statistics")
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func (r *router) handleSurveys(w http.ResponseWriter, req *http.Request) {
	dates, err := r.Layout.ListSurveys()
	if err != nil {
		r.Logger.Error("failed to list surveys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "failed to list surveys")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string][]string{"surveys": dates})
}

func (r *router) handleSurvey(w http.ResponseWriter, req *http.Request) {
	s, err := r.Layout.Survey(req.PathValue("date"))
	if err != nil {
		respondWithError(w, statusFor(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, s)
}

func (r *router) handleAnalytics(w http.ResponseWriter, req *http.Request) {
	a, err := r.Layout.Analytics()
	if err != nil {
		r.Logger.Error("failed to compute analytics", "error", err)
		respondWithError(w, http.StatusInternalServerError, "failed to compute analytics")
		return
	}
	respondWithJSON(w, http.StatusOK, a)
}

// handleMedia serves a captured image or video. Anything that is not a plain
// file name inside images/ or videos/ of a valid date folder is a 404.
func (r *router) handleMedia(w http.ResponseWriter, req *http.Request) {
	p, err := r.Layout.MediaPath(req.PathValue("date"), req.PathValue("kind"), req.PathValue("filename"))
	if err != nil {
		http.NotFound(w, req)
		return
	}
	http.ServeFile(w, req, p)
}

func (r *router) handleReport(w http.ResponseWriter, req *http.Request) {
	r.serveReport(w, req, false)
}

func (r *router) handleReportDownload(w http.ResponseWriter, req *http.Request) {
	r.serveReport(w, req, true)
}

// latestReport prefers the report of the last completed job and falls back
// to today's, which a survey request may have rendered as pending.
func (r *router) latestReport() (string, bool) {
	candidates := []string{}
	if st := r.Mapping.Status(); st.Completed && st.ReportPath != "" {
		candidates = append(candidates, st.ReportPath)
	}
	candidates = append(candidates, r.Layout.ReportPath(storage.DateFolder(r.Now())))
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

func (r *router) serveReport(w http.ResponseWriter, req *http.Request, attachment bool) {
	p, ok := r.latestReport()
	if !ok {
		http.Error(w, reportNotReady, http.StatusNotFound)
		return
	}
	f, err := os.Open(p)
	if err != nil {
		http.Error(w, reportNotReady, http.StatusNotFound)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to read report")
		return
	}

	disposition := "inline"
	if attachment {
		disposition = "attachment"
	}
	w.Header().Set("content-type", "application/pdf")
	w.Header().Set("content-disposition", disposition+`; filename="`+notify.AttachmentName+`"`)
	http.ServeContent(w, req, notify.AttachmentName, info.ModTime(), f)
}
