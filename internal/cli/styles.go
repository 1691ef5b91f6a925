package cli

import "github.com/charmbracelet/lipgloss"

// Terminal styles shared by the commands. lipgloss degrades to plain text
// when the output is not a TTY.
var (
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	styleBad    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	styleFormat = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)
