package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"herald/internal/app/reminder"
	"herald/internal/app/scheduler"
	domain "herald/internal/domain/reminder"
	"herald/internal/shared/async"
)

const (
	defaultPendingLimit = 10
	defaultHistoryLimit = 50
	maxListLimit        = 200
)

type createReminderRequest struct {
	Type             string          `json:"type"`
	TriggerCondition json.RawMessage `json:"trigger_condition"`
	Content          string          `json:"content"`
	Title            string          `json:"title"`
	Priority         int             `json:"priority"`
	Repeat           bool            `json:"repeat"`
	RepeatInterval   int64           `json:"repeat_interval"`
	TaskID           string          `json:"task_id"`
}

type updateReminderRequest struct {
	Title            *string         `json:"title"`
	Content          *string         `json:"content"`
	Priority         *int            `json:"priority"`
	Type             *string         `json:"type"`
	TriggerCondition json.RawMessage `json:"trigger_condition"`
	Repeat           *bool           `json:"repeat"`
	RepeatInterval   *int64          `json:"repeat_interval"`
	Enabled          *bool           `json:"enabled"`
	TaskID           *string         `json:"task_id"`
}

type messageRequest struct {
	Content string `json:"content"`
}

func (h *handler) health(c *gin.Context) {
	data := gin.H{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
	}
	if h.channels != nil {
		data["channels"] = h.channels.Len()
	}
	if h.scheduler != nil {
		data["scheduler_running"] = h.scheduler.Running()
	}
	respond(c, http.StatusOK, data)
}

func (h *handler) createReminder(c *gin.Context) {
	var req createReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	reminderType := domain.Type(req.Type)
	condition, err := domain.ParseCondition(reminderType, req.TriggerCondition)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid trigger_condition: "+err.Error())
		return
	}
	created, err := h.reminders.Create(c.Request.Context(), reminder.CreateParams{
		OwnerID:        ownerFrom(c),
		Type:           reminderType,
		Condition:      condition,
		Content:        req.Content,
		Title:          req.Title,
		Priority:       req.Priority,
		Repeat:         req.Repeat,
		RepeatInterval: time.Duration(req.RepeatInterval) * time.Second,
		TaskID:         req.TaskID,
	})
	if err != nil {
		h.writeMappedError(c, err)
		return
	}
	respond(c, http.StatusCreated, toView(*created))
}

func (h *handler) listReminders(c *gin.Context) {
	query := domain.ListQuery{OwnerID: ownerFrom(c)}
	if raw := c.Query("enabled"); raw != "" {
		enabledOnly, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "enabled must be a boolean")
			return
		}
		query.EnabledOnly = enabledOnly
	}
	if raw := c.Query("type"); raw != "" {
		query.Type = domain.Type(raw)
		if !query.Type.IsValid() {
			respondError(c, http.StatusBadRequest, "unknown reminder type")
			return
		}
	}
	list, err := h.reminders.List(c.Request.Context(), query)
	if err != nil {
		h.writeMappedError(c, err)
		return
	}
	respond(c, http.StatusOK, toViews(list))
}

func (h *handler) getReminder(c *gin.Context) {
	r, ok := h.ownedReminder(c)
	if !ok {
		return
	}
	respond(c, http.StatusOK, toView(*r))
}

func (h *handler) updateReminder(c *gin.Context) {
	existing, ok := h.ownedReminder(c)
	if !ok {
		return
	}
	var req updateReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	patch := domain.Patch{
		Title:    req.Title,
		Content:  req.Content,
		Priority: req.Priority,
		Repeat:   req.Repeat,
		Enabled:  req.Enabled,
		TaskID:   req.TaskID,
	}
	if req.RepeatInterval != nil {
		interval := time.Duration(*req.RepeatInterval) * time.Second
		patch.RepeatInterval = &interval
	}
	if len(req.TriggerCondition) > 0 {
		reminderType := existing.Type
		if req.Type != nil {
			reminderType = domain.Type(*req.Type)
		}
		condition, err := domain.ParseCondition(reminderType, req.TriggerCondition)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid trigger_condition: "+err.Error())
			return
		}
		patch.Condition = condition
	} else if req.Type != nil && domain.Type(*req.Type) != existing.Type {
		respondError(c, http.StatusBadRequest, "type can only change together with trigger_condition")
		return
	}
	if patch.IsEmpty() {
		respondError(c, http.StatusBadRequest, "nothing to update")
		return
	}

	updated, err := h.reminders.Update(c.Request.Context(), existing.ID, patch)
	if err != nil {
		h.writeMappedError(c, err)
		return
	}
	if updated == nil {
		respondError(c, http.StatusNotFound, "reminder not found")
		return
	}
	respond(c, http.StatusOK, toView(*updated))
}

func (h *handler) deleteReminder(c *gin.Context) {
	existing, ok := h.ownedReminder(c)
	if !ok {
		return
	}
	deleted, err := h.reminders.Delete(c.Request.Context(), existing.ID)
	if err != nil {
		h.writeMappedError(c, err)
		return
	}
	if !deleted {
		respondError(c, http.StatusNotFound, "reminder not found")
		return
	}
	respond(c, http.StatusOK, gin.H{"id": existing.ID, "deleted": true})
}

func (h *handler) confirmReminder(c *gin.Context) {
	existing, ok := h.ownedReminder(c)
	if !ok {
		return
	}
	if !h.reminders.Confirm(c.Request.Context(), existing.ID) {
		respondError(c, http.StatusInternalServerError, "failed to confirm reminder")
		return
	}
	current, err := h.reminders.Get(c.Request.Context(), existing.ID)
	if err != nil || current == nil {
		respond(c, http.StatusOK, gin.H{"id": existing.ID, "confirmed": true})
		return
	}
	respond(c, http.StatusOK, gin.H{"id": existing.ID, "confirmed": true, "reminder": toView(*current)})
}

func (h *handler) notifyReminder(c *gin.Context) {
	existing, ok := h.ownedReminder(c)
	if !ok {
		return
	}
	result, sent := h.reminders.Notify(c.Request.Context(), existing.ID)
	if !sent {
		respondError(c, http.StatusInternalServerError, "failed to notify reminder")
		return
	}
	respond(c, http.StatusOK, gin.H{
		"reminder":   toView(result.Reminder),
		"tier":       result.Escalation.Tier.String(),
		"escalation": result.Escalation.Text,
		"delivered":  result.Delivery.Delivered,
		"attempted":  result.Delivery.Attempted,
	})
}

func (h *handler) pendingReminders(c *gin.Context) {
	limit, ok := parseLimit(c, h.pendingLimit)
	if !ok {
		return
	}
	pending := h.reminders.Pending(c.Request.Context(), ownerFrom(c), limit)
	respond(c, http.StatusOK, toViews(pending))
}

func (h *handler) confirmationHistory(c *gin.Context) {
	limit, ok := parseLimit(c, defaultHistoryLimit)
	if !ok {
		return
	}
	history := h.reminders.History(c.Request.Context(), ownerFrom(c), limit)
	respond(c, http.StatusOK, toHistoryViews(history))
}

// postMessage records conversational activity and returns the reminders the
// agent should surface in its next reply.
func (h *handler) postMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	pending := h.reminders.Pending(c.Request.Context(), ownerFrom(c), h.pendingLimit)
	respond(c, http.StatusOK, gin.H{
		"owner_id": ownerFrom(c),
		"pending":  toViews(pending),
		"block":    reminder.FormatPending(pending),
	})
}

func (h *handler) schedulerStatus(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{
		"running": h.scheduler.Running(),
		"jobs":    h.scheduler.Status(),
	})
}

func (h *handler) startScheduler(c *gin.Context) {
	h.scheduler.Start()
	respond(c, http.StatusOK, gin.H{"running": h.scheduler.Running()})
}

func (h *handler) stopScheduler(c *gin.Context) {
	h.scheduler.Stop()
	respond(c, http.StatusOK, gin.H{"running": h.scheduler.Running()})
}

// runJob triggers a job in the background and returns immediately.
func (h *handler) runJob(c *gin.Context) {
	jobID := c.Param("id")
	var status *scheduler.JobStatus
	for _, st := range h.scheduler.Status() {
		if st.ID == jobID {
			st := st
			status = &st
			break
		}
	}
	if status == nil {
		respondError(c, http.StatusNotFound, "unknown job")
		return
	}
	if status.Running {
		respondError(c, http.StatusConflict, "job already running")
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	async.Go(h.logger, "scheduler.run."+jobID, func() {
		if err := h.scheduler.RunNow(ctx, jobID); err != nil && !errors.Is(err, scheduler.ErrJobRunning) {
			h.logger.Warn("manual run of %s failed: %v", jobID, err)
		}
	})
	respond(c, http.StatusAccepted, gin.H{"job": jobID, "accepted": true})
}

// ownedReminder loads the :id reminder and hides reminders of other owners.
func (h *handler) ownedReminder(c *gin.Context) (*domain.Reminder, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "invalid reminder id")
		return nil, false
	}
	r, err := h.reminders.Get(c.Request.Context(), id)
	if err != nil {
		h.writeMappedError(c, err)
		return nil, false
	}
	if r == nil || r.OwnerID != ownerFrom(c) {
		respondError(c, http.StatusNotFound, "reminder not found")
		return nil, false
	}
	return r, true
}

func parseLimit(c *gin.Context, fallback int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		respondError(c, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}
