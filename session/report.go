package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"twin/chat"
)

// ReportName is the file name used for a report generated at t.
func ReportName(t time.Time) string {
	return "hiring_report_" + t.Format("20060102_150405") + ".pdf"
}

// History maps user and assistant messages to the report endpoint's roles.
// System messages are left out.
func (c *Controller) History() []chat.HistoryEntry {
	var out []chat.HistoryEntry
	for _, e := range c.t.entries {
		if e.msg == nil {
			continue
		}
		switch e.msg.Role {
		case RoleUser:
			out = append(out, chat.HistoryEntry{Role: chat.RoleUser, Content: e.msg.Body})
		case RoleAssistant:
			content := e.speakable
			if content == "" {
				content = e.msg.Body
			}
			out = append(out, chat.HistoryEntry{Role: chat.RoleModel, Content: content})
		}
	}
	return out
}

// ExportReport asks the server for a hiring report on the conversation so
// far and writes the PDF to the report directory. The outcome is a notice.
func (c *Controller) ExportReport() {
	history := c.History()
	if len(history) == 0 {
		c.notice("Nothing to report yet")
		return
	}
	path := filepath.Join(c.opts.ReportDir, ReportName(c.now()))
	c.notice("Generating hiring report...")
	go func() {
		msg := "Report saved to " + path
		pdf, err := c.chat.Report(c.ctx, history)
		if err == nil {
			err = os.WriteFile(path, pdf, 0o644)
		}
		if err != nil {
			msg = fmt.Sprintf("Report failed: %v", err)
		}
		c.lp.Post(func() { c.notice(msg) })
	}()
}
