package controller

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/service"
)

// CronController exposes the periodic jobs to an external scheduler.
type CronController struct {
	Send        service.SendRunner
	Replies     service.ReplyRunner
	Connections service.ConnectionRunner
	// Secret must be presented as x-cron-secret or a bearer token. An empty
	// secret disables the check.
	Secret string
	Logger *zap.Logger
}

func (c *CronController) log() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *CronController) authorized(r *http.Request) bool {
	if c.Secret == "" {
		return true
	}
	got := r.Header.Get("x-cron-secret")
	if got == "" {
		got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(c.Secret)) == 1
}

// ProcessSendQueue runs one send-queue invocation. The summary is returned
// even when the run fails.
func (c *CronController) ProcessSendQueue(w http.ResponseWriter, r *http.Request) {
	if !c.authorized(r) {
		writeError(w, c.Logger, appErrors.ErrUnauthorized)
		return
	}
	summary, err := c.Send.Run(r.Context())
	if err != nil {
		c.log().Error("send queue run failed", zap.String("run_id", summary.RunID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
			"summary": summary,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "summary": summary})
}

func (c *CronController) PollReplies(w http.ResponseWriter, r *http.Request) {
	if !c.authorized(r) {
		writeError(w, c.Logger, appErrors.ErrUnauthorized)
		return
	}
	summary, err := c.Replies.Poll(r.Context())
	if err != nil {
		c.log().Error("reply poll failed", zap.String("run_id", summary.RunID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
			"summary": summary,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "summary": summary})
}

func (c *CronController) PollConnections(w http.ResponseWriter, r *http.Request) {
	if !c.authorized(r) {
		writeError(w, c.Logger, appErrors.ErrUnauthorized)
		return
	}
	summary, err := c.Connections.Poll(r.Context())
	if err != nil {
		c.log().Error("connection poll failed", zap.String("run_id", summary.RunID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
			"summary": summary,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "summary": summary})
}
