package controller

import (
	"context"
	"net/http"

	"github.com/kitwatch/notifier/internal/domain/schedule"
	"github.com/kitwatch/notifier/internal/scheduler"
)

type SchedulerControl interface {
	State() (*schedule.State, error)
	PendingRetries() []schedule.PendingRetry
	RunReportNow(ctx context.Context) (*scheduler.RunResult, error)
}

type SchedulerController struct {
	scheduler SchedulerControl
}

func NewSchedulerController(s SchedulerControl) *SchedulerController {
	return &SchedulerController{scheduler: s}
}

// State handles GET /api/v1/scheduler/state. Pending retries come from the
// running scheduler rather than the file.
func (h *SchedulerController) State(w http.ResponseWriter, r *http.Request) {
	st, err := h.scheduler.State()
	if err != nil {
		writeError(w, err)
		return
	}
	st.PendingRetries = h.scheduler.PendingRetries()
	if st.PendingRetries == nil {
		st.PendingRetries = []schedule.PendingRetry{}
	}
	writeJSON(w, http.StatusOK, st)
}

// RunReport handles POST /api/v1/scheduler/report/run. The report goes out
// regardless of the business-day rule.
func (h *SchedulerController) RunReport(w http.ResponseWriter, r *http.Request) {
	res, err := h.scheduler.RunReportNow(r.Context())
	if err != nil {
		if res != nil {
			writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "report_skipped"})
			return
		}
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if res.Status != schedule.StatusSent {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}
