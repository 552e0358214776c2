// Package takeinfo is a CLI utility that prints a summary of take files.
package main

import (
	"bufio"
	"fmt"
	"framereplay/pkg/frame"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
)

const usage = `print frame count, frame size and duration of take files
example: takeinfo ./takes`

func main() {
	if err := run(os.Args, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, w io.Writer) error {
	if len(args) != 2 {
		fmt.Fprintln(w, usage)
		return nil
	}

	takes, err := findTakes(args[1])
	if err != nil {
		return err
	}

	nTakes := len(takes)
	fmt.Fprintf(w, "Found %v takes.\n", nTakes)

	chResults := make(chan result, nTakes)
	for _, path := range takes {
		go func(path string) {
			info, err := inspect(path)
			chResults <- result{path: path, info: info, err: err}
		}(path)
	}

	for i := 1; i <= nTakes; i++ {
		result := <-chResults
		fmt.Fprintf(w, "[%v/%v]", i, nTakes)
		if result.err != nil {
			fmt.Fprintf(w, "[ERR] %v %v\n", result.path, result.err)
			continue
		}
		fmt.Fprintf(w, "[OK] %v %v\n", result.path, result.info)
	}
	return nil
}

func findTakes(dir string) ([]string, error) {
	var takes []string
	walkFunc := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%v %w", path, err)
		}
		if d.IsDir() || !strings.HasSuffix(path, ".take") {
			return nil
		}
		takes = append(takes, path)
		return nil
	}
	if err := filepath.WalkDir(dir, walkFunc); err != nil {
		return nil, err
	}
	return takes, nil
}

type result struct {
	path string
	info takeInfo
	err  error
}

type takeInfo struct {
	takeID    int
	frames    int
	frameSize uint32
	duration  float64
}

func (i takeInfo) String() string {
	return fmt.Sprintf("take=%d frames=%d frameSize=%d duration=%.3fs",
		i.takeID, i.frames, i.frameSize, i.duration)
}

func inspect(path string) (takeInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return takeInfo{}, err
	}
	defer file.Close()

	store, err := frame.UnmarshalTake(bufio.NewReader(file))
	if err != nil {
		return takeInfo{}, fmt.Errorf("decode: %w", err)
	}
	return takeInfo{
		takeID:    store.TakeID(),
		frames:    store.FrameCount(),
		frameSize: store.Layout().FrameSize,
		duration:  store.Duration(),
	}, nil
}
