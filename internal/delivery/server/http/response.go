package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	domain "herald/internal/domain/reminder"
	herrors "herald/internal/shared/errors"
)

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, APIResponse{Success: true, Data: data})
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, APIResponse{Success: false, Error: message})
}

// mapDomainError translates a service error into an HTTP status and a
// user-facing message. Unknown errors become 500 without leaking details.
func mapDomainError(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case herrors.IsValidation(err):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "reminder not found"
	case herrors.IsPersistence(err):
		return http.StatusServiceUnavailable, "reminder storage unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *handler) writeMappedError(c *gin.Context, err error) {
	status, message := mapDomainError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	respondError(c, status, message)
}

// reminderView is the wire shape of a reminder.
type reminderView struct {
	ID               int64       `json:"id"`
	OwnerID          string      `json:"owner_id"`
	Type             domain.Type `json:"type"`
	TriggerCondition any         `json:"trigger_condition"`
	ConditionError   string      `json:"condition_error,omitempty"`
	Content          string      `json:"content"`
	Title            string      `json:"title"`
	Priority         int         `json:"priority"`
	Repeat           bool        `json:"repeat"`
	RepeatInterval   int64       `json:"repeat_interval"`
	Enabled          bool        `json:"enabled"`
	LastTriggered    *time.Time  `json:"last_triggered"`
	TriggerCount     int         `json:"trigger_count"`
	Tier             string      `json:"tier"`
	TaskID           string      `json:"task_id,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

func toView(r domain.Reminder) reminderView {
	view := reminderView{
		ID:               r.ID,
		OwnerID:          r.OwnerID,
		Type:             r.Type,
		TriggerCondition: r.Condition,
		Content:          r.Content,
		Title:            r.DisplayTitle(),
		Priority:         r.Priority,
		Repeat:           r.Repeat,
		RepeatInterval:   int64(r.RepeatInterval / time.Second),
		Enabled:          r.Enabled,
		LastTriggered:    r.LastTriggered,
		TriggerCount:     r.TriggerCount,
		Tier:             domain.EscalationFor(r.TriggerCount).Tier.String(),
		TaskID:           r.TaskID,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.ConditionErr != nil {
		view.ConditionError = r.ConditionErr.Error()
		if len(r.ConditionRaw) > 0 {
			view.TriggerCondition = string(r.ConditionRaw)
		}
	}
	return view
}

type historyView struct {
	ID          string      `json:"id"`
	ReminderID  int64       `json:"reminder_id"`
	Title       string      `json:"title,omitempty"`
	Type        domain.Type `json:"type,omitempty"`
	Content     string      `json:"content"`
	TriggeredAt time.Time   `json:"triggered_at"`
	ConfirmedAt time.Time   `json:"confirmed_at"`
}

func toHistoryViews(entries []domain.HistoryEntry) []historyView {
	out := make([]historyView, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyView{
			ID:          e.ID,
			ReminderID:  e.ReminderID,
			Title:       e.Title,
			Type:        e.Type,
			Content:     e.Content,
			TriggeredAt: e.TriggeredAt,
			ConfirmedAt: e.ConfirmedAt,
		})
	}
	return out
}

func toViews(reminders []domain.Reminder) []reminderView {
	out := make([]reminderView, 0, len(reminders))
	for _, r := range reminders {
		out = append(out, toView(r))
	}
	return out
}
