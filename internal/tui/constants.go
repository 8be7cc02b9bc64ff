package tui

import "time"

const (
	// TickInterval drives the speed graph sampling
	TickInterval = 500 * time.Millisecond

	// Input Dimensions
	InputWidth = 50

	// Layout
	ListWidthRatio  = 0.55
	HeaderHeight    = 8
	DefaultPaddingX = 1
	DefaultPaddingY = 0

	// GraphHistoryPoints is how many speed samples the graph keeps
	GraphHistoryPoints = 120

	// MaxMirrorLog is how many mirror failures a download remembers
	MaxMirrorLog = 50
)
