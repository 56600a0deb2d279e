package panemanager

import (
	"fmt"
	"strings"
)

// SanitizeMessage strips ASCII control bytes other than \n and \t from an
// inbound cross-agent message and wraps it so the receiving agent can tell
// it apart from its own terminal input. Grounded on the reference MCP
// handler's sanitize_message (P9).
func SanitizeMessage(sender, body string) string {
	var b strings.Builder
	b.Grow(len(body))
	for _, r := range body {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("[gwt msg from %s]: %s\n", sender, b.String())
}

// SendMessage sanitizes body and writes it to a single pane's stdin.
func (m *Manager) SendMessage(sender, paneID, body string) error {
	return m.WriteInput(paneID, []byte(SanitizeMessage(sender, body)))
}

// BroadcastMessage sanitizes body once and writes it to every pane, collecting
// per-pane failures rather than aborting on the first one.
func (m *Manager) BroadcastMessage(sender, body string) map[string]error {
	wrapped := []byte(SanitizeMessage(sender, body))
	failures := map[string]error{}
	for _, p := range m.Panes() {
		m.CheckStatus(p)
		if p.Status() != StatusRunning {
			continue
		}
		if err := m.runner.Write(p.handle, wrapped); err != nil {
			failures[p.ID] = err
		}
	}
	return failures
}
