package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jasonhhouse/gaps-e2e/internal/errs"
)

// Parse decodes and validates one group. Unknown keys are rejected.
func Parse(data []byte, source string) (Group, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var g Group
	if err := dec.Decode(&g); err != nil {
		if errors.Is(err, io.EOF) {
			return Group{}, errs.New(errs.InvalidArgument, fmt.Sprintf("%s: empty scenario file", source))
		}
		return Group{}, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("%s: %v", source, err), err)
	}
	g.Source = source
	if err := g.Validate(); err != nil {
		return Group{}, err
	}
	return g, nil
}

// LoadFS loads every *.yaml and *.yml file directly under dir in fsys, in
// file name order.
func LoadFS(fsys fs.FS, dir string) ([]Group, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir %s: %w", dir, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(path.Ext(entry.Name())) {
		case ".yaml", ".yml":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	groups := make([]Group, 0, len(names))
	for _, name := range names {
		p := path.Join(dir, name)
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		g, err := Parse(data, p)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if len(groups) == 0 {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("no scenario files in %s", dir))
	}
	return groups, nil
}

// LoadDir loads scenario files from a directory on disk.
func LoadDir(dir string) ([]Group, error) {
	return LoadFS(os.DirFS(dir), ".")
}
