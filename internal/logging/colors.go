package logging

import (
	"github.com/fatih/color"
)

// Level colors. color.NoColor is honored, so output to a pipe or a file stays
// free of escape sequences.
var levelColors = map[Level]*color.Color{
	Error: color.New(color.FgRed, color.Bold),
	Warn:  color.New(color.FgYellow),
	Info:  color.New(color.Reset),
	Debug: color.New(color.FgGreen),
}

var (
	traceColor = color.New(color.FgCyan)
	metaColor  = color.New(color.FgWhite)
)

func (l Level) color() *color.Color {
	if c, ok := levelColors[l]; ok {
		return c
	}
	return traceColor
}
