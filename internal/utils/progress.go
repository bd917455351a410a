package utils

import "github.com/schollz/progressbar/v3"

// NewProgressBar returns the default console bar, or a silent one when show is
// false.
func NewProgressBar(n int, description string, show bool) *progressbar.ProgressBar {
	if !show {
		return progressbar.DefaultSilent(int64(n), description)
	}
	return progressbar.Default(int64(n), description)
}
