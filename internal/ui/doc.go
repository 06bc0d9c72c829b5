// Package ui holds the lipgloss styles shared by the terminal front end.
package ui
