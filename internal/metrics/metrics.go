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


package metrics

import (
	"errors"
	"fmt"
	"math"
	"gonum.org/v1/gonum/stat"
	"github.com/mlnoga/despeckle/internal/raster"
)

// Restoration quality metrics between a reference and a processed image
type Metrics struct {
	MSE         float64  // mean squared error
	MAE         float64  // mean absolute error
	PSNR        float64  // peak signal to noise ratio in dB, +Inf for identical images
	Correlation float64  // Pearson correlation of pixel values
}

func (m Metrics) String() string {
	psnr:="+Inf"
	if !math.IsInf(m.PSNR, 1) { psnr=fmt.Sprintf("%.2f dB", m.PSNR) }
	return fmt.Sprintf("MSE %.3f MAE %.3f PSNR %s correlation %.4f", m.MSE, m.MAE, psnr, m.Correlation)
}

// Compares two images of identical dimensions channel-interleaved
func Compare(a, b *raster.Image) (m Metrics, err error) {
	if a.Width!=b.Width || a.Height!=b.Height || a.Channels!=b.Channels {
		return m, errors.New(fmt.Sprintf("dimension mismatch: %dx%dx%d vs %dx%dx%d",
			a.Width, a.Height, a.Channels, b.Width, b.Height, b.Channels))
	}
	if len(a.Pix)==0 { return m, errors.New("empty image") }

	x:=make([]float64, len(a.Pix))
	y:=make([]float64, len(b.Pix))
	sqDiff:=make([]float64, len(a.Pix))
	absDiff:=make([]float64, len(a.Pix))
	for i:=range a.Pix {
		x[i]=float64(a.Pix[i])
		y[i]=float64(b.Pix[i])
		d:=x[i]-y[i]
		sqDiff[i]=d*d
		absDiff[i]=math.Abs(d)
	}

	m.MSE=stat.Mean(sqDiff, nil)
	m.MAE=stat.Mean(absDiff, nil)
	if m.MSE==0 {
		m.PSNR=math.Inf(1)
	} else {
		m.PSNR=10*math.Log10(255*255/m.MSE)
	}
	m.Correlation=stat.Correlation(x, y, nil)
	return m, nil
}
