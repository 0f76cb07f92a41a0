package fileio

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Order decides in which order a directory of sources is sent
type Order int

const (
	ByName Order = iota
	ByModTime
)

// ImageExtensions are the sources picked up in frame mode
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp"}

// ParseOrder maps CLI value to Order
func ParseOrder(value string) (Order, error) {
	switch strings.ToLower(value) {
	case "name", "":
		return ByName, nil
	case "mtime", "time":
		return ByModTime, nil
	}
	return ByName, errors.Errorf("unknown order %q", value)
}

// MatchExtensions returns filter accepting file names with any of given extensions, case insensitive
func MatchExtensions(extensions ...string) func(name string) bool {
	return func(name string) bool {
		ext := strings.ToLower(filepath.Ext(name))
		for _, e := range extensions {
			if ext == e {
				return true
			}
		}
		return false
	}
}

// ListSources returns regular files of dir accepted by match (nil accepts all) in given order
func ListSources(dir string, order Order, match func(name string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "list sources")
	}

	type source struct {
		path  string
		mtime int64
	}
	sources := make([]source, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || (match != nil && !match(entry.Name())) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed while listing.
			continue
		}
		sources = append(sources, source{
			path:  filepath.Join(dir, entry.Name()),
			mtime: info.ModTime().UnixNano(),
		})
	}

	sort.SliceStable(sources, func(i, j int) bool {
		if order == ByModTime && sources[i].mtime != sources[j].mtime {
			return sources[i].mtime < sources[j].mtime
		}
		return sources[i].path < sources[j].path
	})

	paths := make([]string, len(sources))
	for i, s := range sources {
		paths[i] = s.path
	}
	return paths, nil
}

// ReadPayload reads whole source file
func ReadPayload(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read source")
	}
	return data, nil
}
