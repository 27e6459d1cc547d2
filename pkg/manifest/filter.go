package manifest

import (
	"context"
	"fmt"
	"strings"

	"github.com/brwnj/gpd/pkg/errors"
	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
)

const filterResult = "__keep"

// Filter variables exposed to expressions.
var filterVars = []string{"filename", "folder", "label", "url", "md5", "size"}

// Filter keeps the descriptors for which expr evaluates to true. expr is a
// tengo expression over the variables filename, folder, label, url, md5
// and size (bytes, -1 when unknown). The text and fmt modules are
// importable:
//
//	import("text").has_suffix(filename, ".fastq.gz") && folder != "QC"
//
// An empty expression keeps everything.
func Filter(ctx context.Context, descs []Descriptor, expr string) ([]Descriptor, error) {
	if strings.TrimSpace(expr) == "" {
		return descs, nil
	}

	script := tengo.NewScript([]byte(fmt.Sprintf("%s := (%s)", filterResult, expr)))
	script.SetImports(stdlib.GetModuleMap("text", "fmt"))
	for _, name := range filterVars {
		var placeholder interface{} = ""
		if name == "size" {
			placeholder = int64(0)
		}
		if err := script.Add(name, placeholder); err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrInvalidFilter, err)
		}
	}
	compiled, err := script.Compile()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidFilter, err)
	}

	out := make([]Descriptor, 0, len(descs))
	for _, d := range descs {
		c := compiled.Clone()
		for name, value := range filterValues(d) {
			if err := c.Set(name, value); err != nil {
				return nil, fmt.Errorf("%w: %w", errors.ErrInvalidFilter, err)
			}
		}
		if err := c.RunContext(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", errors.ErrInvalidFilter, d.Filename, err)
		}
		keep, ok := c.Get(filterResult).Value().(bool)
		if !ok {
			return nil, fmt.Errorf("%w: expression must be boolean, got %s", errors.ErrInvalidFilter, c.Get(filterResult).ValueType())
		}
		if keep {
			out = append(out, d)
		}
	}
	return out, nil
}

func filterValues(d Descriptor) map[string]interface{} {
	return map[string]interface{}{
		"filename": d.Filename,
		"folder":   d.ParentFolder,
		"label":    d.Label,
		"url":      d.URL,
		"md5":      d.MD5,
		"size":     d.Size,
	}
}
