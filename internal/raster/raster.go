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


package raster

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"strings"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// An 8-bit raster image with interleaved channels.
// Pix holds Width*Height*Channels bytes in row-major order.
// Serves directly as a row source and sink for filtering passes
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

// Creates a zeroed raster image of the given dimensions
func NewImage(width, height, channels int) *Image {
	return &Image{
		Width    : width,
		Height   : height,
		Channels : channels,
		Pix      : make([]byte, width*height*channels),
	}
}

// Bytes per pixel row
func (m *Image) Stride() int { return m.Width*m.Channels }

// Copies row y into buf. The row index must be in bounds; callers
// clamp before fetching
func (m *Image) FetchRow(y int, buf []byte) error {
	if y<0 || y>=m.Height {
		return errors.New(fmt.Sprintf("fetch of row %d outside image height %d", y, m.Height))
	}
	if len(buf)!=m.Stride() {
		return errors.New(fmt.Sprintf("row buffer length %d, expect %d", len(buf), m.Stride()))
	}
	copy(buf, m.Pix[y*m.Stride():(y+1)*m.Stride()])
	return nil
}

// Overwrites row y with buf
func (m *Image) WriteRow(y int, buf []byte) error {
	if y<0 || y>=m.Height {
		return errors.New(fmt.Sprintf("write of row %d outside image height %d", y, m.Height))
	}
	if len(buf)!=m.Stride() {
		return errors.New(fmt.Sprintf("row buffer length %d, expect %d", len(buf), m.Stride()))
	}
	copy(m.Pix[y*m.Stride():(y+1)*m.Stride()], buf)
	return nil
}

// Converts a decoded image into a raster. Grayscale images become one
// channel, everything else four interleaved NRGBA channels
func FromImage(img image.Image) *Image {
	bounds:=img.Bounds()
	width, height:=bounds.Dx(), bounds.Dy()

	if gray, ok:=img.(*image.Gray); ok {
		m:=NewImage(width, height, 1)
		for y:=0; y<height; y++ {
			src:=gray.Pix[y*gray.Stride : y*gray.Stride+width]
			copy(m.Pix[y*width:(y+1)*width], src)
		}
		return m
	}

	m:=NewImage(width, height, 4)
	index:=0
	for y:=bounds.Min.Y; y<bounds.Max.Y; y++ {
		for x:=bounds.Min.X; x<bounds.Max.X; x++ {
			c:=color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			m.Pix[index  ]=c.R
			m.Pix[index+1]=c.G
			m.Pix[index+2]=c.B
			m.Pix[index+3]=c.A
			index+=4
		}
	}
	return m
}

// Converts the raster back into a standard library image for encoding.
// One channel maps to grayscale, three to opaque NRGBA, four to NRGBA
func (m *Image) ToImage() (image.Image, error) {
	switch m.Channels {
	case 1:
		img:=image.NewGray(image.Rect(0, 0, m.Width, m.Height))
		for y:=0; y<m.Height; y++ {
			copy(img.Pix[y*img.Stride:y*img.Stride+m.Width], m.Pix[y*m.Width:(y+1)*m.Width])
		}
		return img, nil
	case 3:
		img:=image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
		src, dst:=0, 0
		for i:=0; i<m.Width*m.Height; i++ {
			img.Pix[dst  ]=m.Pix[src  ]
			img.Pix[dst+1]=m.Pix[src+1]
			img.Pix[dst+2]=m.Pix[src+2]
			img.Pix[dst+3]=255
			src+=3
			dst+=4
		}
		return img, nil
	case 4:
		img:=image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
		copy(img.Pix, m.Pix)
		return img, nil
	}
	return nil, errors.New(fmt.Sprintf("cannot convert %d-channel raster to image", m.Channels))
}

// Loads a raster image from a PNG, JPEG, TIFF or BMP file
func Load(fileName string) (*Image, error) {
	file, err:=os.Open(fileName)
	if err!=nil { return nil, err }
	defer file.Close()

	img, _, err:=image.Decode(bufio.NewReader(file))
	if err!=nil { return nil, errors.New(fmt.Sprintf("error decoding %s: %s", fileName, err.Error())) }
	return FromImage(img), nil
}

// Saves the raster image, picking the format from the filename suffix.
// Supports .png, .jpg/.jpeg, .tif/.tiff and .bmp
func (m *Image) Save(fileName string) error {
	img, err:=m.ToImage()
	if err!=nil { return err }

	file, err:=os.Create(fileName)
	if err!=nil { return err }
	defer file.Close()

	writer:=bufio.NewWriter(file)
	defer writer.Flush()

	fnLower:=strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(fnLower, ".png"):
		return png.Encode(writer, img)
	case strings.HasSuffix(fnLower, ".jpg") || strings.HasSuffix(fnLower, ".jpeg"):
		return jpeg.Encode(writer, img, &jpeg.Options{Quality: 95})
	case strings.HasSuffix(fnLower, ".tif") || strings.HasSuffix(fnLower, ".tiff"):
		return tiff.Encode(writer, img, nil)
	case strings.HasSuffix(fnLower, ".bmp"):
		return bmp.Encode(writer, img)
	}
	return errors.New(fmt.Sprintf("unknown file suffix in %s", fileName))
}
