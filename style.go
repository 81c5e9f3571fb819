package main

import "github.com/charmbracelet/lipgloss"

var (
	keyword   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Render
	paragraph = lipgloss.NewStyle().Width(78).Padding(0, 0, 0, 2).Render

	faintStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"})
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true)
	audioStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#3C3C3C", Dark: "#DDDADA"})
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)
