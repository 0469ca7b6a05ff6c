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

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"time"
	dsp "github.com/mlnoga/despeckle/internal"
	"github.com/mlnoga/despeckle/internal/filter"
	"github.com/mlnoga/despeckle/internal/gen"
	"github.com/mlnoga/despeckle/internal/metrics"
	"github.com/mlnoga/despeckle/internal/raster"
	"github.com/mlnoga/despeckle/internal/rest"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out = flag.String("out", "out%d.png", "save output to `file`. `%d` is replaced by the input index")
var log = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")

var radius   = flag.Int("radius", 2, "filter window half-width, window side is 2*radius+1")
var lowerTol = flag.Int("lowerTol", 0, "lower tolerance around the median in [0,255], 0=disabled")
var upperTol = flag.Int("upperTol", 0, "upper tolerance around the median in [0,255], 0=disabled")
var lowerRule= flag.Bool("lowerRule", false, "replace only pixels darker than median minus lower tolerance")
var upperRule= flag.Bool("upperRule", false, "replace only pixels brighter than median plus upper tolerance")
var heapsort = flag.Bool("heapsort", false, "sort filter windows with heapsort instead of quicksort")
var threads  = flag.Int("threads", 0, "number of workers per image row, 0=number of logical cores")

var port   = flag.Int("port", 8080, "serve: port to listen on")
var chroot = flag.String("chroot", "", "serve: change filesystem root to `dir` before serving (requires root)")
var setuid = flag.Int("setuid", -1, "serve: change user id to `uid` before serving, -1=keep")

var genWidth  = flag.Int("genWidth", 512, "width of generated test images")
var genHeight = flag.Int("genHeight", 512, "height of generated test images")
var genNoise  = flag.Float64("genNoise", 0.05, "fraction of impulse noise pixels in generated test images")

func main() {
	logWriter:=io.Writer(os.Stdout)
	start:=time.Now()
	flag.Usage=func(){
		fmt.Fprintf(logWriter, `Despeckle Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (filter|gen|compare|serve|legal|version) (img0.png ... imgn.png)

Commands:
  filter  Apply the windowed median filter to the input images
  gen     Generate a noisy test image and save it to -out
  compare Report quality metrics between two images
  serve   Offer the filter as a REST service
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Initialize logging to file in addition to stdout, if selected
	if *log=="%auto" {
		if *out!="" {
			*log=strings.TrimSuffix(*out, filepath.Ext(*out))+".log"
		} else {
			*log=""
		}
	}
	if *log!="" {
		if err:=dsp.LogAlsoToFile(*log); err!=nil {
			dsp.LogFatalf("Unable to open logfile '%s'\n", *log)
		}
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			dsp.LogFatal("Could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			dsp.LogFatal("Could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	args:=flag.Args()
	if len(args)<1 {
		flag.Usage()
		return
	}

	var err error
	switch args[0] {
	case "filter":
		err=cmdFilter(args[1:], logWriter)

	case "gen":
		err=cmdGen(logWriter)

	case "compare":
		err=cmdCompare(args[1:], logWriter)

	case "serve":
		if err=rest.MakeSandbox(logWriter, *chroot, *setuid); err!=nil { break }
		rest.Serve(*port)

	case "legal":
		cmdLegal()

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	now:=time.Now()
	elapsed:=now.Sub(start)
	fmt.Fprintf(logWriter, "\nDone after %v\n", elapsed)

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			dsp.LogFatal("Could not create memory profile: ", err)
		}
		defer f.Close()
		if err := pprof.Lookup("allocs").WriteTo(f,0); err != nil {
			dsp.LogFatal("Could not write allocation profile: ", err)
		}
	}

	if err!=nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		os.Exit(-1)
	}
	dsp.LogSync()
}

// Parses the filter flags into a settings object
func configFromFlags() *filter.Config {
	return &filter.Config{
		Radius         : *radius,
		LowerTolerance : *lowerTol,
		UpperTolerance : *upperTol,
		LowerRule      : *lowerRule,
		UpperRule      : *upperRule,
		Heapsort       : *heapsort,
		MaxThreads     : *threads,
	}
}

// Creates an execution context reporting progress to the log in 10% steps
func contextWithProgress(logWriter io.Writer) *filter.Context {
	ctx:=filter.NewContext(logWriter)
	lastDecile:=-1
	ctx.Progress=func(done, total int) {
		decile:=done*10/total
		if decile>lastDecile {
			lastDecile=decile
			fmt.Fprintf(logWriter, "%d%% ", decile*10)
			if decile==10 { fmt.Fprintf(logWriter, "\n") }
		}
	}
	return ctx
}

// Applies the windowed median filter to all files matching the argument patterns
func cmdFilter(args []string, logWriter io.Writer) error {
	cfg:=configFromFlags()
	if err:=cfg.Valid(); err!=nil { return err }

	var fileNames []string
	for _, pattern:=range args {
		matches, err:=filepath.Glob(pattern)
		if err!=nil { return err }
		fileNames=append(fileNames, matches...)
	}
	if len(fileNames)==0 {
		return errors.New(fmt.Sprintf("no input files for patterns %v", args))
	}
	fmt.Fprintf(logWriter, "Found %d files.\n", len(fileNames))

	for id, fileName:=range fileNames {
		in, err:=raster.Load(fileName)
		if err!=nil { return err }
		fmt.Fprintf(logWriter, "%d: Filtering %dx%dx%d image from %s with radius %d\n",
			        id, in.Width, in.Height, in.Channels, fileName, cfg.Radius)

		ctx:=contextWithProgress(logWriter)
		outImg:=raster.NewImage(in.Width, in.Height, in.Channels)
		if err:=cfg.Apply(in, outImg, in.Width, in.Height, in.Channels, ctx); err!=nil {
			return err
		}

		outName:=*out
		if strings.Contains(outName, "%d") { outName=fmt.Sprintf(*out, id) }
		fmt.Fprintf(logWriter, "%d: Writing result to %s\n", id, outName)
		if err:=outImg.Save(outName); err!=nil { return err }
	}
	return nil
}

// Generates a noisy gradient test image and saves it to the output file
func cmdGen(logWriter io.Writer) error {
	if *genWidth<1 || *genHeight<1 {
		return errors.New(fmt.Sprintf("invalid test image dimensions %dx%d", *genWidth, *genHeight))
	}
	m:=gen.NoisyGradient(*genWidth, *genHeight, float32(*genNoise))

	outName:=*out
	if strings.Contains(outName, "%d") { outName=fmt.Sprintf(*out, 0) }
	fmt.Fprintf(logWriter, "Writing %dx%d test image with %.1f%% impulse noise to %s\n",
		        m.Width, m.Height, *genNoise*100, outName)
	return m.Save(outName)
}

// Reports quality metrics between a reference image and a processed image
func cmdCompare(args []string, logWriter io.Writer) error {
	if len(args)!=2 {
		return errors.New(fmt.Sprintf("compare needs exactly two input files, got %d", len(args)))
	}
	a, err:=raster.Load(args[0])
	if err!=nil { return err }
	b, err:=raster.Load(args[1])
	if err!=nil { return err }

	m, err:=metrics.Compare(a, b)
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "%s vs %s: %v\n", args[0], args[1], m)
	return nil
}
