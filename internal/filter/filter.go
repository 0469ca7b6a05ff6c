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


package filter

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
	"github.com/mlnoga/despeckle/internal/osort"
	"github.com/mlnoga/despeckle/internal/window"
)

// A sink for computed pixel rows. Rows are written exactly once each,
// in top-to-bottom order, and only after they are fully computed
type RowSink interface {
	WriteRow(y int, buf []byte) error
}

// Settings for one windowed median filtering pass. Immutable during the pass.
//
// The window is a square of side 2*Radius+1 around each pixel. With all
// tolerances zero the median replaces every pixel unconditionally. Tolerances
// and rule flags select one of four threshold variants deciding per pixel
// whether to keep its original value or replace it with the window median
type Config struct {
	Radius         int  `json:"radius"`          // window half-width, >=1
	LowerTolerance int  `json:"lowerTolerance"`  // in [0,255], 0=disabled
	UpperTolerance int  `json:"upperTolerance"`  // in [0,255], 0=disabled
	LowerRule      bool `json:"lowerRule"`       // enables the lower threshold variant
	UpperRule      bool `json:"upperRule"`       // enables the upper threshold variant
	Heapsort       bool `json:"heapsort"`        // sort windows with heapsort instead of quicksort
	MaxThreads     int  `json:"maxThreads"`      // workers per row, 0=use context default
}

// Validates filter settings
func (c *Config) Valid() error {
	if c.Radius<1 {
		return errors.New(fmt.Sprintf("invalid radius %d, must be 1 or greater", c.Radius))
	}
	if c.LowerTolerance<0 || c.LowerTolerance>255 {
		return errors.New(fmt.Sprintf("invalid lower tolerance %d, must be in [0,255]", c.LowerTolerance))
	}
	if c.UpperTolerance<0 || c.UpperTolerance>255 {
		return errors.New(fmt.Sprintf("invalid upper tolerance %d, must be in [0,255]", c.UpperTolerance))
	}
	if c.MaxThreads<0 {
		return errors.New(fmt.Sprintf("invalid thread count %d", c.MaxThreads))
	}
	return nil
}

// An execution context for filtering passes
type Context struct {
	Log        io.Writer                // optional log sink
	MemoryMB   int                      // memory budget, memory.TotalMemory()/1024/1024
	MaxThreads int                      // default workers per row, from CPU core count
	Progress   func(done, total int)    // optional best-effort progress callback
}

// Creates an execution context with the machine's memory and core counts
func NewContext(log io.Writer) *Context {
	maxThreads:=cpuid.CPU.LogicalCores
	if maxThreads<1 { maxThreads=runtime.GOMAXPROCS(0) }
	return &Context{
		Log        : log,
		MemoryMB   : int(memory.TotalMemory()/1024/1024),
		MaxThreads : maxThreads,
	}
}

// Applies the filter to an image of the given dimensions, reading rows from
// src and writing each computed row to sink. Single pass over image height;
// per row, pixel columns may be split across workers which only read the
// row window, with a barrier before the window advances.
// Any configuration, fetch or write error aborts the pass immediately;
// no partially computed row is ever written
func (c *Config) Apply(src window.RowSource, sink RowSink, width, height, channels int, ctx *Context) error {
	if err:=c.Valid(); err!=nil { return err }
	if sink==nil { return errors.New("nil row sink") }
	if width<1 || height<1 || channels<1 {
		return errors.New(fmt.Sprintf("invalid image dimensions %dx%dx%d", width, height, channels))
	}

	workers:=c.MaxThreads
	if workers<1 && ctx!=nil { workers=ctx.MaxThreads }
	if workers<1 { workers=1 }
	if workers>width { workers=width }

	// the window working set must fit the memory budget
	windowMiB:=(2*c.Radius+1)*width*channels>>20
	if ctx!=nil && ctx.MemoryMB>0 && windowMiB>=ctx.MemoryMB {
		return errors.New(fmt.Sprintf("row window of %d MiB exceeds memory budget of %d MiB", windowMiB, ctx.MemoryMB))
	}

	win, err:=window.New(src, c.Radius, width, height, channels)
	if err!=nil { return err }

	// per-worker sample scratchpads, reused across all rows of the pass
	side:=2*c.Radius+1
	scratch:=make([][]uint8, workers)
	for i:=range scratch { scratch[i]=make([]uint8, side*side) }
	out:=make([]byte, width*channels)

	for y:=0; y<height; y++ {
		c.filterRow(win, out, width, channels, scratch)
		if err:=sink.WriteRow(y, out); err!=nil { return err }
		if y<height-1 {
			if err:=win.Advance(y+1); err!=nil { return err }
		}
		if ctx!=nil && ctx.Progress!=nil && (y%16==0 || y==height-1) {
			ctx.Progress(y+1, height)
		}
	}
	return nil
}

// Computes one output row from the current window contents.
// Pure function of the window and the configuration; splits the pixel
// columns into one stripe per scratch buffer and joins before returning
func (c *Config) filterRow(win *window.RowWindow, out []byte, width, channels int, scratch [][]uint8) {
	workers:=len(scratch)
	if workers<=1 {
		c.filterStripe(win, out, 0, width, width, channels, scratch[0])
		return
	}

	wg:=sync.WaitGroup{}
	for i:=0; i<workers; i++ {
		lo, hi:=i*width/workers, (i+1)*width/workers
		wg.Add(1)
		go func(lo, hi int, samples []uint8) {
			defer wg.Done()
			c.filterStripe(win, out, lo, hi, width, channels, samples)
		}(lo, hi, scratch[i])
	}
	wg.Wait()
}

// Computes output pixels for columns [lo,hi) of the current row
func (c *Config) filterStripe(win *window.RowWindow, out []byte, lo, hi, width, channels int, samples []uint8) {
	for j:=lo; j<hi; j++ {
		for k:=0; k<channels; k++ {
			out[channels*j+k]=c.filterPixel(win, j, k, width, channels, samples)
		}
	}
}

// Computes one output value for pixel column j, channel k.
// Gathers the (2r+1)x(2r+1) window samples with column clamping, takes the
// median, and applies the variant selection rule against the center value
func (c *Config) filterPixel(win *window.RowWindow, j, k, width, channels int, samples []uint8) uint8 {
	r:=c.Radius
	index:=0
	for ii:=-r; ii<=r; ii++ {
		row:=win.RowAt(ii)
		for jj:=j-r; jj<=j+r; jj++ {
			samples[index]=row[channels*clamp(jj, 0, width-1)+k]
			index++
		}
	}

	// the gather order places the sample at ii=0, jj=j exactly mid-array;
	// it must be read before sorting destroys positional information
	center:=samples[len(samples)>>1]
	med:=osort.SortedMedianUint8(samples, c.Heapsort)
	return c.selectOutput(center, med)
}

// Decides between the original center value and the window median.
// Exactly one of four mutually exclusive tolerance variants applies;
// every other flag combination replaces with the median unconditionally.
// Note the both-tolerances-no-rules branch replaces with the median when
// the center lies inside the band, the inverse sense of the other variants
func (c *Config) selectOutput(center, med uint8) uint8 {
	lo, hi:=c.LowerTolerance, c.UpperTolerance
	ce, m :=int(center), int(med)
	switch {
	case lo>0 && hi==0 && c.LowerRule && !c.UpperRule:
		if ce<m-lo { return med }
		return center
	case lo==0 && hi>0 && !c.LowerRule && c.UpperRule:
		if ce>m+hi { return med }
		return center
	case lo>0 && hi>0 && !c.LowerRule && !c.UpperRule:
		if ce>=m-lo && ce<=m+hi { return med }
		return center
	case lo>0 && hi>0 && c.LowerRule && c.UpperRule:
		if ce<m-lo || ce>m+hi { return med }
		return center
	default:
		return med
	}
}

// Clamps x into [lo, hi]
func clamp(x, lo, hi int) int {
	if x<lo { return lo }
	if x>hi { return hi }
	return x
}
