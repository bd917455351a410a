package delta

import (
	"fmt"
	"image/color"
)

// Class is the change category of a pixel. The numeric values are the labels
// used for training and the values written to classification rasters.
type Class int

const (
	Loss Class = iota
	Stable
	Gain
)

const NumClasses = 3

func Classes() []Class {
	return []Class{Loss, Stable, Gain}
}

func (c Class) String() string {
	switch c {
	case Loss:
		return "loss"
	case Stable:
		return "stable"
	case Gain:
		return "gain"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Color is the display colour of the class in maps and legends.
func (c Class) Color() color.RGBA {
	switch c {
	case Loss:
		return color.RGBA{R: 0xff, A: 0xff}
	case Stable:
		return color.RGBA{R: 0xff, G: 0xff, A: 0xff}
	case Gain:
		return color.RGBA{G: 0xff, A: 0xff}
	}
	return color.RGBA{}
}

func (c Class) Valid() bool {
	return c >= Loss && c <= Gain
}
