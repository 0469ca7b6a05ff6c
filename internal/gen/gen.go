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


package gen

import (
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/valyala/fastrand"
	"github.com/mlnoga/despeckle/internal/raster"
)

// Synthesizes a diagonal color gradient between c1 and c2, blended in Luv
// for perceptual smoothness. Three channels
func Gradient(width, height int, c1, c2 colorful.Color) *raster.Image {
	m:=raster.NewImage(width, height, 3)
	span:=float64(width+height-2)
	if span<1 { span=1 }
	index:=0
	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ {
			t:=float64(x+y)/span
			r, g, b:=c1.BlendLuv(c2, t).Clamped().RGB255()
			m.Pix[index  ]=r
			m.Pix[index+1]=g
			m.Pix[index+2]=b
			index+=3
		}
	}
	return m
}

// Picks a random opaque color
func RandomColor(rng *fastrand.RNG) colorful.Color {
	return colorful.Color{
		R: float64(rng.Uint32n(256))/255.0,
		G: float64(rng.Uint32n(256))/255.0,
		B: float64(rng.Uint32n(256))/255.0,
	}
}

// Overwrites the given fraction of pixels with impulse noise, i.e. sets
// all channels of each hit pixel to 0 or 255 with equal probability.
// Overwrites in place and returns the image
func AddImpulseNoise(m *raster.Image, fraction float32, rng *fastrand.RNG) *raster.Image {
	if fraction<=0 { return m }
	numPixels:=m.Width*m.Height
	hits:=int(fraction*float32(numPixels))
	for i:=0; i<hits; i++ {
		pos:=int(rng.Uint32n(uint32(numPixels)))*m.Channels
		v:=byte(0)
		if rng.Uint32n(2)==1 { v=255 }
		for k:=0; k<m.Channels; k++ {
			m.Pix[pos+k]=v
		}
	}
	return m
}

// Synthesizes a noisy test image: a random color gradient with the given
// fraction of salt and pepper pixels
func NoisyGradient(width, height int, fraction float32) *raster.Image {
	rng:=fastrand.RNG{}
	m:=Gradient(width, height, RandomColor(&rng), RandomColor(&rng))
	return AddImpulseNoise(m, fraction, &rng)
}
