package ui

import "strings"

var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline is a fixed-size ring of samples rendered as block characters.
type Sparkline struct {
	samples []float64
	next    int
	filled  int
}

// NewSparkline keeps the last size samples.
func NewSparkline(size int) *Sparkline {
	if size <= 0 {
		size = 60
	}
	return &Sparkline{samples: make([]float64, size)}
}

// Add records a sample, evicting the oldest when full.
func (s *Sparkline) Add(v float64) {
	s.samples[s.next] = v
	s.next = (s.next + 1) % len(s.samples)
	if s.filled < len(s.samples) {
		s.filled++
	}
}

// Len returns the number of retained samples.
func (s *Sparkline) Len() int { return s.filled }

// Reset drops all samples.
func (s *Sparkline) Reset() {
	clear(s.samples)
	s.next, s.filled = 0, 0
}

// ordered returns retained samples oldest first.
func (s *Sparkline) ordered() []float64 {
	out := make([]float64, 0, s.filled)
	start := (s.next - s.filled + len(s.samples)) % len(s.samples)
	for i := 0; i < s.filled; i++ {
		out = append(out, s.samples[(start+i)%len(s.samples)])
	}
	return out
}

// Render draws the newest width samples scaled to their maximum, left
// padded with spaces.
func (s *Sparkline) Render(width int) string {
	if width <= 0 {
		width = len(s.samples)
	}
	vals := s.ordered()
	if len(vals) > width {
		vals = vals[len(vals)-width:]
	}
	peak := 0.0
	for _, v := range vals {
		peak = max(peak, v)
	}

	var sb strings.Builder
	sb.WriteString(strings.Repeat(" ", width-len(vals)))
	for _, v := range vals {
		idx := 0
		if peak > 0 && v > 0 {
			idx = min(int(v/peak*float64(len(sparkBlocks)-1)+0.5), len(sparkBlocks)-1)
		}
		sb.WriteRune(sparkBlocks[idx])
	}
	return sb.String()
}
