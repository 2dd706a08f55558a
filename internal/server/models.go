package server

import (
	"time"

	"github.com/mohammad-safakhou/reportflow/internal/workflow"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// CreateThreadRequest starts a new report thread.
type CreateThreadRequest struct {
	ThreadID         string `json:"thread_id,omitempty"`
	Request          string `json:"request"`
	AutoAccept       bool   `json:"auto_accept"`
	BackgroundSearch bool   `json:"background_search"`
}

type ResumeThreadRequest struct {
	Reply string `json:"reply"`
}

// ThreadAccepted is returned for every asynchronous thread operation.
type ThreadAccepted struct {
	ThreadID string `json:"thread_id"`
	EventID  string `json:"event_id,omitempty"`
}

// ThreadView is the externally visible projection of a checkpoint.
type ThreadView struct {
	ThreadID     string              `json:"thread_id"`
	Request      string              `json:"request"`
	Status       workflow.Status     `json:"status"`
	Node         workflow.Node       `json:"node"`
	Locale       string              `json:"locale,omitempty"`
	Plan         *workflow.Plan      `json:"plan,omitempty"`
	Interrupt    *workflow.Interrupt `json:"interrupt,omitempty"`
	StepCursor   int                 `json:"step_cursor"`
	Observations int                 `json:"observations"`
	Report       *ReportSummary      `json:"report,omitempty"`
	Error        string              `json:"error,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

type ReportSummary struct {
	Title    string `json:"title"`
	Path     string `json:"path,omitempty"`
	RunID    string `json:"run_id,omitempty"`
	Sections int    `json:"sections"`
	Batched  bool   `json:"batched"`
	Partial  bool   `json:"partial,omitempty"`
}

func threadView(st *workflow.State) ThreadView {
	v := ThreadView{
		ThreadID:     st.ThreadID,
		Request:      st.Request,
		Status:       st.Status,
		Node:         st.Node,
		Locale:       st.Locale,
		Plan:         st.Plan,
		Interrupt:    st.Interrupt,
		StepCursor:   st.StepCursor,
		Observations: len(st.Observations),
		Error:        st.Error,
		CreatedAt:    st.CreatedAt,
		UpdatedAt:    st.UpdatedAt,
	}
	if r := st.Report; r != nil {
		v.Report = &ReportSummary{
			Title:    r.Title,
			Path:     r.Path,
			RunID:    r.RunID,
			Sections: r.Sections,
			Batched:  r.Batched,
			Partial:  r.Partial,
		}
	}
	return v
}
