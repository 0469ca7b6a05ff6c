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
	"sort"
	"testing"
	"github.com/valyala/fastrand"
)

// In-memory image serving as both row source and row sink
type memImage struct {
	width, height, channels int
	pix                     []byte
}

func newMemImage(width, height, channels int) *memImage {
	return &memImage{width, height, channels, make([]byte, width*height*channels)}
}

func (m *memImage) stride() int { return m.width*m.channels }

func (m *memImage) FetchRow(y int, buf []byte) error {
	if y<0 || y>=m.height { return errors.New("fetch out of bounds") }
	copy(buf, m.pix[y*m.stride():(y+1)*m.stride()])
	return nil
}

func (m *memImage) WriteRow(y int, buf []byte) error {
	if y<0 || y>=m.height { return errors.New("write out of bounds") }
	copy(m.pix[y*m.stride():(y+1)*m.stride()], buf)
	return nil
}

func randomize(m *memImage, rng *fastrand.RNG) {
	for i:=range m.pix { m.pix[i]=byte(rng.Uint32n(256)) }
}

// Straightforward reference: gather, sort with the standard library, pick the middle
func referenceFilter(cfg *Config, in *memImage) []byte {
	out:=make([]byte, len(in.pix))
	r:=cfg.Radius
	for y:=0; y<in.height; y++ {
		for x:=0; x<in.width; x++ {
			for k:=0; k<in.channels; k++ {
				var s []int
				for ii:=y-r; ii<=y+r; ii++ {
					for jj:=x-r; jj<=x+r; jj++ {
						yy, xx:=clamp(ii, 0, in.height-1), clamp(jj, 0, in.width-1)
						s=append(s, int(in.pix[yy*in.stride()+in.channels*xx+k]))
					}
				}
				center:=in.pix[y*in.stride()+in.channels*x+k]
				sort.Ints(s)
				med:=uint8(s[len(s)/2])
				out[y*in.stride()+in.channels*x+k]=cfg.selectOutput(center, med)
			}
		}
	}
	return out
}

func TestConstantImageIsFixpoint(t *testing.T) {
	cfgs:=[]Config{
		{Radius: 1},
		{Radius: 2, LowerTolerance: 5, LowerRule: true},
		{Radius: 2, UpperTolerance: 5, UpperRule: true},
		{Radius: 3, LowerTolerance: 5, UpperTolerance: 5},
		{Radius: 1, LowerTolerance: 5, UpperTolerance: 5, LowerRule: true, UpperRule: true},
	}
	for _, cfg:=range cfgs {
		in:=newMemImage(7, 5, 3)
		for i:=range in.pix { in.pix[i]=42 }
		out:=newMemImage(7, 5, 3)
		if err:=cfg.Apply(in, out, 7, 5, 3, nil); err!=nil { t.Fatalf("Apply: %s", err.Error()) }
		for i, p:=range out.pix {
			if p!=42 { t.Fatalf("cfg %+v: pixel %d is %d, expect 42", cfg, i, p) }
		}
	}
}

func TestDistinctPatchMedian(t *testing.T) {
	in:=newMemImage(3, 3, 1)
	copy(in.pix, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9})
	out:=newMemImage(3, 3, 1)
	cfg:=Config{Radius: 1}
	if err:=cfg.Apply(in, out, 3, 3, 1, nil); err!=nil { t.Fatalf("Apply: %s", err.Error()) }
	// the center window holds {1..9} and its median is 5
	if out.pix[4]!=5 { t.Errorf("center pixel %d, expect 5", out.pix[4]) }
}

func TestOutputShape(t *testing.T) {
	rng:=fastrand.RNG{}
	in:=newMemImage(11, 6, 4)
	randomize(in, &rng)
	out:=newMemImage(11, 6, 4)
	cfg:=Config{Radius: 2}
	if err:=cfg.Apply(in, out, 11, 6, 4, nil); err!=nil { t.Fatalf("Apply: %s", err.Error()) }
	if len(out.pix)!=len(in.pix) { t.Errorf("output length %d, expect %d", len(out.pix), len(in.pix)) }
}

func TestMatchesReference(t *testing.T) {
	rng:=fastrand.RNG{}
	cfgs:=[]Config{
		{Radius: 1},
		{Radius: 2},
		{Radius: 2, Heapsort: true},
		{Radius: 1, LowerTolerance: 10, LowerRule: true},
		{Radius: 1, UpperTolerance: 10, UpperRule: true},
		{Radius: 1, LowerTolerance: 10, UpperTolerance: 10},
		{Radius: 1, LowerTolerance: 10, UpperTolerance: 10, LowerRule: true, UpperRule: true},
		{Radius: 3, MaxThreads: 4},
	}
	for _, cfg:=range cfgs {
		for _, channels:=range []int{1, 3} {
			in:=newMemImage(9, 7, channels)
			randomize(in, &rng)
			out:=newMemImage(9, 7, channels)
			if err:=cfg.Apply(in, out, 9, 7, channels, nil); err!=nil { t.Fatalf("Apply: %s", err.Error()) }
			expect:=referenceFilter(&cfg, in)
			for i:=range expect {
				if out.pix[i]!=expect[i] {
					t.Fatalf("cfg %+v channels %d: pixel %d is %d, expect %d", cfg, channels, i, out.pix[i], expect[i])
				}
			}
		}
	}
}

func TestSortPathsAgree(t *testing.T) {
	rng:=fastrand.RNG{}
	in:=newMemImage(16, 9, 2)
	randomize(in, &rng)
	outQ:=newMemImage(16, 9, 2)
	outH:=newMemImage(16, 9, 2)
	cfgQ:=Config{Radius: 2}
	cfgH:=Config{Radius: 2, Heapsort: true}
	if err:=cfgQ.Apply(in, outQ, 16, 9, 2, nil); err!=nil { t.Fatalf("Apply: %s", err.Error()) }
	if err:=cfgH.Apply(in, outH, 16, 9, 2, nil); err!=nil { t.Fatalf("Apply: %s", err.Error()) }
	for i:=range outQ.pix {
		if outQ.pix[i]!=outH.pix[i] {
			t.Fatalf("pixel %d: quicksort %d heapsort %d", i, outQ.pix[i], outH.pix[i])
		}
	}
}

func TestIdempotentOnLocallyFlat(t *testing.T) {
	// two flat plateaus; every 3x3 window has its own value as median away from
	// the boundary, and the first pass settles the boundary pixels
	in:=newMemImage(12, 8, 1)
	for y:=0; y<8; y++ {
		for x:=0; x<12; x++ {
			if x<6 { in.pix[y*12+x]=10 } else { in.pix[y*12+x]=200 }
		}
	}
	cfg:=Config{Radius: 1}
	once:=newMemImage(12, 8, 1)
	if err:=cfg.Apply(in, once, 12, 8, 1, nil); err!=nil { t.Fatalf("Apply: %s", err.Error()) }
	twice:=newMemImage(12, 8, 1)
	if err:=cfg.Apply(once, twice, 12, 8, 1, nil); err!=nil { t.Fatalf("Apply: %s", err.Error()) }
	for i:=range once.pix {
		if once.pix[i]!=twice.pix[i] {
			t.Fatalf("pixel %d changed on second pass: %d to %d", i, once.pix[i], twice.pix[i])
		}
	}
}

func TestDegenerateShapes(t *testing.T) {
	rng:=fastrand.RNG{}
	shapes:=[]struct{ w, h, r int }{
		{1, 5, 7},   // one pixel wide, radius exceeds width and height
		{5, 1, 7},   // one pixel tall
		{1, 1, 3},
	}
	for _, s:=range shapes {
		in:=newMemImage(s.w, s.h, 1)
		randomize(in, &rng)
		out:=newMemImage(s.w, s.h, 1)
		cfg:=Config{Radius: s.r}
		if err:=cfg.Apply(in, out, s.w, s.h, 1, nil); err!=nil {
			t.Fatalf("%dx%d radius %d: %s", s.w, s.h, s.r, err.Error())
		}
		expect:=referenceFilter(&cfg, in)
		for i:=range expect {
			if out.pix[i]!=expect[i] {
				t.Fatalf("%dx%d radius %d: pixel %d is %d, expect %d", s.w, s.h, s.r, i, out.pix[i], expect[i])
			}
		}
	}
}

type selectCase struct {
	center, med uint8
	expect      uint8
}

func TestVariantSelection(t *testing.T) {
	lowerOnly:=Config{Radius: 1, LowerTolerance: 10, LowerRule: true}
	upperOnly:=Config{Radius: 1, UpperTolerance: 10, UpperRule: true}
	bandKeep :=Config{Radius: 1, LowerTolerance: 10, UpperTolerance: 10}
	bandRej  :=Config{Radius: 1, LowerTolerance: 10, UpperTolerance: 10, LowerRule: true, UpperRule: true}
	fallback :=Config{Radius: 1}
	mixed    :=Config{Radius: 1, LowerTolerance: 10}  // lower tolerance without rule flag: falls back to median

	cases:=[]struct {
		name string
		cfg  Config
		tcs  []selectCase
	}{
		{"lowerOnly", lowerOnly, []selectCase{
			{89, 100, 100},   // center < med-tol: replace
			{90, 100, 90},    // boundary keeps, comparison is strict
			{100, 100, 100},
			{120, 100, 120},
		}},
		{"upperOnly", upperOnly, []selectCase{
			{111, 100, 100},  // center > med+tol: replace
			{110, 100, 110},  // boundary keeps, comparison is strict
			{100, 100, 100},
			{80, 100, 80},
		}},
		{"bandKeep", bandKeep, []selectCase{
			{90, 100, 100},   // inside the band, inclusive: replace with median
			{110, 100, 100},
			{100, 100, 100},
			{89, 100, 89},    // outside: keep center
			{111, 100, 111},
		}},
		{"bandReject", bandRej, []selectCase{
			{89, 100, 100},   // below the band: replace
			{111, 100, 100},  // above the band: replace
			{90, 100, 90},    // band boundaries keep
			{110, 100, 110},
			{100, 100, 100},
		}},
		{"fallback", fallback, []selectCase{
			{42, 100, 100},   // no tolerances: unconditional median
			{100, 100, 100},
		}},
		{"mixedFlags", mixed, []selectCase{
			{42, 100, 100},   // incomplete variant selection: unconditional median
		}},
	}
	for _, group:=range cases {
		for _, tc:=range group.tcs {
			if got:=group.cfg.selectOutput(tc.center, tc.med); got!=tc.expect {
				t.Errorf("%s center=%d med=%d: got %d, expect %d", group.name, tc.center, tc.med, got, tc.expect)
			}
		}
	}
}

func TestInvalidConfig(t *testing.T) {
	in:=newMemImage(4, 4, 1)
	out:=newMemImage(4, 4, 1)
	bad:=[]Config{
		{Radius: 0},
		{Radius: -3},
		{Radius: 1, LowerTolerance: 256},
		{Radius: 1, UpperTolerance: -1},
		{Radius: 1, MaxThreads: -1},
	}
	for _, cfg:=range bad {
		if err:=cfg.Apply(in, out, 4, 4, 1, nil); err==nil {
			t.Errorf("config %+v accepted", cfg)
		}
	}
	good:=Config{Radius: 1}
	if err:=good.Apply(in, out, 0, 4, 1, nil); err==nil { t.Errorf("width 0 accepted") }
	if err:=good.Apply(in, out, 4, 0, 1, nil); err==nil { t.Errorf("height 0 accepted") }
	if err:=good.Apply(in, out, 4, 4, 0, nil); err==nil { t.Errorf("channels 0 accepted") }
	if err:=good.Apply(in, nil, 4, 4, 1, nil); err==nil { t.Errorf("nil sink accepted") }
}

type failingSink struct{ after int }

func (s *failingSink) WriteRow(y int, buf []byte) error {
	if y>=s.after { return errors.New("sink failure") }
	return nil
}

func TestHostErrorsAbort(t *testing.T) {
	rng:=fastrand.RNG{}
	in:=newMemImage(6, 6, 1)
	randomize(in, &rng)
	cfg:=Config{Radius: 1}

	if err:=cfg.Apply(in, &failingSink{after: 2}, 6, 6, 1, nil); err==nil {
		t.Errorf("write failure not propagated")
	}
	// source lying about its height fails on fetch
	short:=newMemImage(6, 3, 1)
	out:=newMemImage(6, 6, 1)
	if err:=cfg.Apply(short, out, 6, 6, 1, nil); err==nil {
		t.Errorf("fetch failure not propagated")
	}
}

func TestProgressReporting(t *testing.T) {
	in:=newMemImage(4, 40, 1)
	out:=newMemImage(4, 40, 1)
	cfg:=Config{Radius: 1}
	calls, last:=0, 0
	ctx:=&Context{Progress: func(done, total int) {
		calls++
		last=done
		if total!=40 { t.Errorf("progress total %d, expect 40", total) }
	}}
	if err:=cfg.Apply(in, out, 4, 40, 1, ctx); err!=nil { t.Fatalf("Apply: %s", err.Error()) }
	if calls==0 { t.Errorf("progress never reported") }
	if last!=40 { t.Errorf("final progress %d, expect 40", last) }
}

func TestMemoryBudget(t *testing.T) {
	in:=newMemImage(1<<19, 1, 1)
	out:=newMemImage(1<<19, 1, 1)
	cfg:=Config{Radius: 1}
	ctx:=&Context{MemoryMB: 1}
	if err:=cfg.Apply(in, out, 1<<19, 1, 1, ctx); err==nil {
		t.Errorf("pass exceeding memory budget accepted")
	}
}
