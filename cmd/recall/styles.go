package main

import "github.com/charmbracelet/lipgloss"

var (
	styleTitle   = lipgloss.NewStyle().Bold(true)
	styleURL     = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	styleDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleAnswer  = lipgloss.NewStyle().PaddingLeft(2).Width(88)
)
