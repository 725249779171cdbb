// Package monitor displays the status of a sending session. Both displays
// are passive sender observers and never touch the graph.
//
// TUI renders a bubbletea status screen; StatusLogger writes the same
// information as log lines.
//
//	tui := monitor.NewTUI()
//	session.Observe(tui.Observe)
//	session.Observe(monitor.NewStatusLogger(nil, 100).Observe)
package monitor
