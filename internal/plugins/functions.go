package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// maxFileBytes bounds what file() may read into an argument.
const maxFileBytes = 64 << 10

// pureFunctionNames is the only function set a Core-tier plugin may call.
var pureFunctionNames = map[string]struct{}{
	"lower": {}, "upper": {}, "trimspace": {}, "trimprefix": {}, "join": {}, "format": {},
}

func pureFunctions() map[string]function.Function {
	return map[string]function.Function{
		"lower":      stdlib.LowerFunc,
		"upper":      stdlib.UpperFunc,
		"trimspace":  stdlib.TrimSpaceFunc,
		"trimprefix": stdlib.TrimPrefixFunc,
		"join":       stdlib.JoinFunc,
		"format":     stdlib.FormatFunc,
	}
}

// evalContext is the whole runtime surface of a plugin expression: the target,
// the run options, the pure functions and a file() confined to root.
func evalContext(root, base, target string, opts map[string]string) *hcl.EvalContext {
	options := cty.MapValEmpty(cty.String)
	if len(opts) > 0 {
		vals := make(map[string]cty.Value, len(opts))
		for k, v := range opts {
			vals[k] = cty.StringVal(v)
		}
		options = cty.MapVal(vals)
	}
	funcs := pureFunctions()
	funcs["file"] = confinedFileFunc(root, base)
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"target":  cty.StringVal(target),
			"options": options,
		},
		Functions: funcs,
	}
}

func confinedFileFunc(root, base string) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "path", Type: cty.String}},
		Type:   function.StaticReturnType(cty.String),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			path, ok := confine(root, base, args[0].AsString())
			if !ok {
				return cty.NilVal, fmt.Errorf("path %q is outside %s", args[0].AsString(), root)
			}
			info, err := os.Stat(path)
			if err != nil {
				return cty.NilVal, err
			}
			if info.Size() > maxFileBytes {
				return cty.NilVal, fmt.Errorf("%s exceeds %d bytes", path, maxFileBytes)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return cty.NilVal, err
			}
			if !utf8.Valid(data) {
				return cty.NilVal, fmt.Errorf("%s is not valid UTF-8", path)
			}
			return cty.StringVal(string(data)), nil
		},
	})
}

// confine resolves path against base and reports whether it stays inside root.
// Symlinks are resolved when the path exists.
func confine(root, base, path string) (string, bool) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	path = resolve(filepath.Clean(path))
	root = resolve(filepath.Clean(root))
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return path, true
}

func resolve(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	return path
}
