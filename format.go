package msclient

import (
	"fmt"
	"time"
)

// https://en.wikipedia.org/wiki/Template:Quantities_of_bytes
func sizeRepr(value int64, unit string) string {
	const power = 1000
	labels := [...]string{"", "k", "M", "G", "T", "P"}
	n := 0
	v := float64(value)
	for v > power && n < len(labels)-1 {
		v /= power
		n++
	}
	if n == 0 {
		return fmt.Sprintf("%d %s", value, unit)
	}
	return fmt.Sprintf("%.1f %s%s", v, labels[n], unit)
}

// BytesRepr renders a byte count in decimal units, "26.2 MB".
func BytesRepr(value int64) string {
	return sizeRepr(value, "B")
}

// BitsRepr renders a bit count in decimal units, "3.5 Mb".
func BitsRepr(value int64) string {
	return sizeRepr(value, "b")
}

// TimeRepr renders a duration as "h:mm:ss".
func TimeRepr(d time.Duration) string {
	seconds := int64(d.Seconds())
	minutes, s := seconds/60, seconds%60
	h, m := minutes/60, minutes%60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
