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


package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"github.com/gin-gonic/gin"

	"github.com/mlnoga/despeckle/internal/filter"
	"github.com/mlnoga/despeckle/internal/metrics"
	"github.com/mlnoga/despeckle/internal/raster"
)


func Serve(port int) {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET ("/ping",      getPing)
			v1.POST("/despeckle", postDespeckle)
		}
	}
	r.Run(fmt.Sprintf(":%d", port)) // listen and serve on 0.0.0.0
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m,err:=json.MarshalIndent(args, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Returns true if a path is considered safe, i.e. not an absolute path,
// and doesn't contain the ".." characters to change to a parent directory
func isPathAllowed(p string) bool {
	if filepath.IsAbs(p) { return false }          // relative paths only
	if strings.Contains(p, "..") { return false }  // no going outside the tree
	return true
}

type postDespeckleArgs struct {
	FilePatterns []string       `json:"filePatterns"`
	Config       *filter.Config `json:"config"`
	OutPattern   string         `json:"outPattern"`  // output filename, %d replaced by input index
	Metrics      bool           `json:"metrics"`     // report restoration metrics vs the input
}

func postDespeckle(c *gin.Context)  {
	logWriter := c.Writer
	var args postDespeckleArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}
	if args.Config==nil || args.OutPattern=="" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "config and outPattern are required"} )
		return
	}
	if !isPathAllowed(args.OutPattern) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "output path outside current directory tree"} )
		return
	}

	header := logWriter.Header()
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err:=printArgs(logWriter, "Arguments:\n", "\n", args); err!=nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	// glob filename patterns into the list of inputs
	var fileNames []string
	for _, pattern := range args.FilePatterns {
		matches, err := filepath.Glob(pattern)
		if err!=nil {
			fmt.Fprintf(logWriter, "Error globbing %s: %s\n", pattern, err.Error())
			return
		}
		for _, match:=range matches {
			if !isPathAllowed(match) {
				fmt.Fprintf(logWriter, "Pattern match outside current directory tree, skipping\n")
				continue
			}
			fileNames=append(fileNames, match)
		}
	}
	if len(fileNames)==0 {
		fmt.Fprintf(logWriter, "No files to filter for patterns %v\n", args.FilePatterns)
		return
	}
	fmt.Fprintf(logWriter, "Found %d files.\n", len(fileNames))

	ctx:=filter.NewContext(logWriter)
	for id, fileName:=range fileNames {
		in, err:=raster.Load(fileName)
		if err!=nil {
			fmt.Fprintf(logWriter, "%d: %s\n", id, err.Error())
			return
		}
		fmt.Fprintf(logWriter, "%d: Filtering %dx%dx%d image from %s with radius %d\n",
			        id, in.Width, in.Height, in.Channels, fileName, args.Config.Radius)

		out:=raster.NewImage(in.Width, in.Height, in.Channels)
		if err:=args.Config.Apply(in, out, in.Width, in.Height, in.Channels, ctx); err!=nil {
			fmt.Fprintf(logWriter, "%d: error: %s\n", id, err.Error())
			return
		}

		if args.Metrics {
			m, err:=metrics.Compare(in, out)
			if err!=nil {
				fmt.Fprintf(logWriter, "%d: error: %s\n", id, err.Error())
				return
			}
			fmt.Fprintf(logWriter, "%d: %v\n", id, m)
		}

		outName:=args.OutPattern
		if strings.Contains(outName, "%d") { outName=fmt.Sprintf(args.OutPattern, id) }
		fmt.Fprintf(logWriter, "%d: Writing %dx%d result to %s\n", id, out.Width, out.Height, outName)
		if err:=out.Save(outName); err!=nil {
			fmt.Fprintf(logWriter, "%d: error writing %s: %s\n", id, outName, err.Error())
			return
		}
	}
	logWriter.(http.Flusher).Flush()

	return
}
