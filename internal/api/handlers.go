package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/abelbrown/recall/internal/assistant"
	"github.com/abelbrown/recall/internal/dispatch"
	"github.com/abelbrown/recall/internal/journal"
	"github.com/abelbrown/recall/internal/retrieve"
	"github.com/abelbrown/recall/internal/store"
	"github.com/abelbrown/recall/internal/synth"
	"github.com/abelbrown/recall/internal/temporal"
)

type pageJSON struct {
	ID         int64     `json:"id"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Content    string    `json:"content,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

func toPageJSON(p store.Page, withContent bool) pageJSON {
	out := pageJSON{ID: p.ID, URL: p.URL, Title: p.Title, CapturedAt: p.CapturedAt}
	if withContent {
		out.Content = p.Content
	}
	return out
}

type matchJSON struct {
	Text       string    `json:"text"`
	Time       time.Time `json:"time"`
	HasTime    bool      `json:"has_time"`
	Confidence float64   `json:"confidence"`
	Kind       string    `json:"kind"`
	Context    string    `json:"context,omitempty"`
}

func toMatchJSON(m temporal.Match) matchJSON {
	return matchJSON{Text: m.Text, Time: m.Time, HasTime: m.HasTime, Confidence: m.Confidence, Kind: m.Kind, Context: m.Context}
}

func errorJSON(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"status": "error", "message": err.Error()})
}

func pageID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid page id"})
		return 0, false
	}
	return id, true
}

type saveRequest struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content any    `json:"content"`
}

func (s *Server) handleSavePage(c *gin.Context) {
	var req saveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	p, err := s.assistant.Save(assistant.SaveRequest{URL: req.URL, Title: req.Title, Content: req.Content})
	if err != nil {
		if errors.Is(err, assistant.ErrInvalidPage) {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Missing required fields: title and url"})
			return
		}
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Successfully saved page: " + p.Title,
		"id":      p.ID,
	})
}

func (s *Server) handleListPages(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	pages, err := s.assistant.Pages(limit)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	out := make([]pageJSON, 0, len(pages))
	for _, p := range pages {
		out = append(out, toPageJSON(p, false))
	}
	c.JSON(http.StatusOK, gin.H{"pages": out})
}

func (s *Server) handleGetPage(c *gin.Context) {
	id, ok := pageID(c)
	if !ok {
		return
	}
	p, err := s.assistant.Page(id)
	if err != nil {
		s.pageError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPageJSON(p, true))
}

type queryRequest struct {
	Query   string       `json:"query"`
	Limit   int          `json:"limit"`
	History []synth.Turn `json:"history"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	ans, err := s.assistant.Ask(c.Request.Context(), assistant.AskRequest{Query: req.Query, Limit: req.Limit, History: req.History})
	if err != nil {
		if errors.Is(err, retrieve.ErrInvalidQuery) {
			errorJSON(c, http.StatusBadRequest, err)
			return
		}
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, ans)
}

func (s *Server) handleDates(c *gin.Context) {
	id, ok := pageID(c)
	if !ok {
		return
	}
	matches, err := s.assistant.Dates(id)
	if err != nil {
		s.pageError(c, err)
		return
	}
	out := make([]matchJSON, 0, len(matches))
	for _, m := range matches {
		out = append(out, toMatchJSON(m))
	}
	c.JSON(http.StatusOK, gin.H{"page_id": id, "dates": out})
}

type eventRequest struct {
	Title    string `json:"title"`
	Attendee string `json:"attendee"`
	Policy   string `json:"policy"`
	Start    string `json:"start"` // RFC 3339; skips date extraction
}

type eventResponse struct {
	Created       bool      `json:"created"`
	Channel       string    `json:"channel"`
	ID            string    `json:"id,omitempty"`
	Existing      bool      `json:"existing"`
	FallbackUsed  bool      `json:"fallback_used"`
	State         string    `json:"state"`
	Key           string    `json:"key"`
	Match         matchJSON `json:"match"`
	CalendarError string    `json:"calendar_error,omitempty"`
	EmailError    string    `json:"email_error,omitempty"`
}

func (s *Server) handleEvent(c *gin.Context) {
	id, ok := pageID(c)
	if !ok {
		return
	}

	var req eventRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorJSON(c, http.StatusBadRequest, err)
			return
		}
	}

	attendee, err := assistant.NormalizeAttendee(req.Attendee)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	opts := assistant.EventOptions{Title: req.Title, Attendee: attendee}
	if req.Policy != "" {
		if opts.Policy, err = temporal.ParsePolicy(req.Policy); err != nil {
			errorJSON(c, http.StatusBadRequest, err)
			return
		}
	}
	if req.Start != "" {
		if opts.Start, err = time.Parse(time.RFC3339, req.Start); err != nil {
			errorJSON(c, http.StatusBadRequest, err)
			return
		}
	}

	sched, err := s.assistant.Schedule(c.Request.Context(), id, opts)
	resp := eventResponse{
		Created:      sched.Result.Created,
		Channel:      string(sched.Result.Channel),
		ID:           sched.Result.ID,
		Existing:     sched.Result.Existing,
		FallbackUsed: sched.Result.FallbackUsed,
		State:        string(sched.Result.State),
		Key:          sched.Result.Key,
		Match:        toMatchJSON(sched.Match),
	}
	if sched.Result.CalendarErr != nil {
		resp.CalendarError = sched.Result.CalendarErr.Error()
	}
	if sched.Result.EmailErr != nil {
		resp.EmailError = sched.Result.EmailErr.Error()
	}

	var failed *dispatch.FailedError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, resp)
	case errors.As(err, &failed):
		c.JSON(http.StatusBadGateway, resp)
	case errors.Is(err, assistant.ErrInvalidAttendee):
		errorJSON(c, http.StatusBadRequest, err)
	case errors.Is(err, assistant.ErrTemporalUnresolved):
		errorJSON(c, http.StatusUnprocessableEntity, err)
	default:
		s.pageError(c, err)
	}
}

func (s *Server) handleActivity(c *gin.Context) {
	n, err := strconv.Atoi(c.DefaultQuery("n", "50"))
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "n must be a positive integer"})
		return
	}
	entries := s.assistant.Activity(n)
	if entries == nil {
		entries = []journal.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) pageError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		errorJSON(c, http.StatusNotFound, err)
		return
	}
	errorJSON(c, http.StatusInternalServerError, err)
}
