// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package window

import (
	"errors"
	"fmt"
)

// A source of pixel rows. Implementations must honor the requested row index exactly;
// the window performs all edge clamping before calling FetchRow
type RowSource interface {
	FetchRow(y int, buf []byte) error
}

// A sliding window of 2*radius+1 pixel rows around the current scan line.
// Rows are stored as a ring of fixed buffers; advancing the window refetches
// exactly one row and rotates a start index, it never copies row data.
// Row indices outside [0,height-1] are clamped to the nearest valid row,
// so the image edge rows repeat at the top and bottom
type RowWindow struct {
	src      RowSource
	radius   int
	width    int
	height   int
	channels int
	center   int      // source row index of logical offset 0
	start    int      // ring index of logical offset -radius
	rows     [][]byte // ring of 2*radius+1 buffers of width*channels bytes
}

// Creates a row window of given radius centered on row 0, and fills it from the source.
// Requests source rows CLAMP(i, 0, height-1) for i in [-radius, +radius]
func New(src RowSource, radius, width, height, channels int) (*RowWindow, error) {
	if src==nil { return nil, errors.New("row window: nil row source") }
	if radius<1 { return nil, errors.New(fmt.Sprintf("row window: invalid radius %d", radius)) }
	if width<1 || height<1 || channels<1 {
		return nil, errors.New(fmt.Sprintf("row window: invalid dimensions %dx%dx%d", width, height, channels))
	}

	w:=&RowWindow{
		src      : src,
		radius   : radius,
		width    : width,
		height   : height,
		channels : channels,
		center   : 0,
		start    : 0,
		rows     : make([][]byte, 2*radius+1),
	}
	for i:=-radius; i<=radius; i++ {
		w.rows[i+radius]=make([]byte, width*channels)
		if err:=src.FetchRow(clamp(i, 0, height-1), w.rows[i+radius]); err!=nil {
			return nil, err
		}
	}
	return w, nil
}

// Returns the row buffer at logical offset in [-radius, +radius] relative
// to the current center row, in O(1). Offsets outside that range are a
// programming error and panic
func (w *RowWindow) RowAt(offset int) []byte {
	if offset< -w.radius || offset>w.radius {
		panic(fmt.Sprintf("row window: offset %d outside radius %d", offset, w.radius))
	}
	return w.rows[(w.start+offset+w.radius) % len(w.rows)]
}

// Returns the source row index of the current center
func (w *RowWindow) Center() int { return w.center }

// Returns the window radius
func (w *RowWindow) Radius() int { return w.radius }

// Slides the window down to be centered on nextCenter, normally center+1.
// Overwrites the buffer leaving the window at offset -radius with source row
// CLAMP(nextCenter+radius, 0, height-1) and rotates the ring start index.
// On a fetch error the window contents are undefined and the pass must abort
func (w *RowWindow) Advance(nextCenter int) error {
	leaving:=w.rows[w.start]
	if err:=w.src.FetchRow(clamp(nextCenter+w.radius, 0, w.height-1), leaving); err!=nil {
		return err
	}
	w.start=(w.start+1) % len(w.rows)
	w.center=nextCenter
	return nil
}

// Clamps x into [lo, hi]
func clamp(x, lo, hi int) int {
	if x<lo { return lo }
	if x>hi { return hi }
	return x
}
