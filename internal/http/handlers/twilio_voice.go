package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hearthkeep/hearth/internal/services"
)

// TwiML rendering. The voice controller returns a channel-neutral
// CallScript; this file serializes it to the markup Twilio executes.

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escXML(s string) string { return xmlEscaper.Replace(s) }

func twiml(inner string) string {
	return `<?xml version="1.0" encoding="UTF-8"?><Response>` + inner + `</Response>`
}

func hangupWith(message string) string {
	return twiml("<Say>" + escXML(message) + "</Say><Hangup/>")
}

// renderScript serializes a CallScript. gatherAction is the callback URL for
// the next turn when the script gathers speech.
func renderScript(script *services.CallScript, gatherAction string) string {
	var b strings.Builder
	for _, line := range script.Say {
		b.WriteString("<Say>" + escXML(line) + "</Say>")
	}
	if script.Gather != nil {
		fmt.Fprintf(&b,
			`<Gather input="speech" action="%s" method="POST" timeout="%d" speechTimeout="auto"><Say>%s</Say></Gather>`,
			escXML(gatherAction), script.Gather.TimeoutSec, escXML(script.Gather.Prompt))
		if script.NoInputSay != "" {
			b.WriteString("<Say>" + escXML(script.NoInputSay) + "</Say>")
		}
	}
	b.WriteString("<Hangup/>")
	return twiml(b.String())
}

// gatherActionURL builds the relative callback URL for the next gather turn.
func (h *Handler) gatherActionURL(jobID string, turn int) string {
	q := url.Values{}
	q.Set("jobId", jobID)
	q.Set("turn", strconv.Itoa(turn))
	if h.Webhooks.VoiceWebhookToken != "" {
		q.Set("token", h.Webhooks.VoiceWebhookToken)
	}
	return "/webhooks/twilio/voice/gather?" + q.Encode()
}

// checkVoiceToken verifies the query token. An unset token allows all
// callers (development mode).
func (h *Handler) checkVoiceToken(c *gin.Context) bool {
	if h.Webhooks.VoiceWebhookToken == "" {
		return true
	}
	if c.Query("token") != h.Webhooks.VoiceWebhookToken {
		c.String(http.StatusForbidden, "forbidden")
		c.Abort()
		return false
	}
	return true
}

func (h *Handler) renderVoice(c *gin.Context, script *services.CallScript, jobID string) {
	action := ""
	if script.Gather != nil {
		action = h.gatherActionURL(jobID, script.Gather.NextTurn)
	}
	c.Data(http.StatusOK, "text/xml", []byte(renderScript(script, action)))
}

const voiceErrorGoodbye = "Sorry, something went wrong. Goodbye."

// VoiceAnswer handles POST /webhooks/twilio/voice/answer.
func (h *Handler) VoiceAnswer(c *gin.Context) {
	if !h.checkVoiceToken(c) {
		return
	}
	jobID := strings.TrimSpace(c.Query("jobId"))
	if jobID == "" {
		c.Data(http.StatusOK, "text/xml", []byte(hangupWith(voiceErrorGoodbye)))
		return
	}

	script, err := h.Voice.Answer(c.Request.Context(), jobID, strings.TrimSpace(c.PostForm("CallSid")))
	if errors.Is(err, services.ErrVoiceJobNotFound) {
		c.Data(http.StatusOK, "text/xml", []byte(hangupWith(voiceErrorGoodbye)))
		return
	}
	if err != nil {
		c.Data(http.StatusOK, "text/xml", []byte(hangupWith(voiceErrorGoodbye)))
		return
	}
	h.renderVoice(c, script, jobID)
}

// VoiceGather handles POST /webhooks/twilio/voice/gather.
func (h *Handler) VoiceGather(c *gin.Context) {
	if !h.checkVoiceToken(c) {
		return
	}
	jobID := strings.TrimSpace(c.Query("jobId"))
	if jobID == "" {
		c.Data(http.StatusOK, "text/xml", []byte(hangupWith(voiceErrorGoodbye)))
		return
	}
	turn, err := strconv.Atoi(c.Query("turn"))
	if err != nil || turn < 1 {
		turn = 1
	}

	script, err := h.Voice.Gather(c.Request.Context(), jobID, turn,
		c.PostForm("SpeechResult"), strings.TrimSpace(c.PostForm("CallSid")))
	if errors.Is(err, services.ErrVoiceJobNotFound) {
		c.Data(http.StatusOK, "text/xml", []byte(hangupWith(voiceErrorGoodbye)))
		return
	}
	if err != nil {
		c.Data(http.StatusOK, "text/xml", []byte(hangupWith(voiceErrorGoodbye)))
		return
	}
	h.renderVoice(c, script, jobID)
}

// VoiceStatus handles POST /webhooks/twilio/voice/status, Twilio's call
// status callback.
func (h *Handler) VoiceStatus(c *gin.Context) {
	if !h.checkVoiceToken(c) {
		return
	}
	jobID := strings.TrimSpace(c.Query("jobId"))
	if jobID == "" {
		ok(c, http.StatusOK, gin.H{"ok": true})
		return
	}

	err := h.Voice.Status(c.Request.Context(), jobID,
		strings.TrimSpace(c.PostForm("CallStatus")), strings.TrimSpace(c.PostForm("CallSid")))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "status callback failed")
		return
	}
	ok(c, http.StatusOK, gin.H{"ok": true})
}
