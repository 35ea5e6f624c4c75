package render

import (
	"strings"

	"go.starlark.net/starlark"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.Und)

// builtins are the helpers every template can call.
var builtins = starlark.StringDict{
	"title":   starlark.NewBuiltin("title", stringFunc(func(s string) string { return titleCaser.String(s) })),
	"upper":   starlark.NewBuiltin("upper", stringFunc(strings.ToUpper)),
	"lower":   starlark.NewBuiltin("lower", stringFunc(strings.ToLower)),
	"default": starlark.NewBuiltin("default", defaultValue),
}

func stringFunc(fn func(string) string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var v starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
			return nil, err
		}
		if v == starlark.None {
			return starlark.None, nil
		}
		return starlark.String(fn(display(v))), nil
	}
}

// defaultValue returns its first argument unless it is None or empty.
func defaultValue(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v, fallback starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &v, &fallback); err != nil {
		return nil, err
	}
	if v == starlark.None || v == starlark.String("") {
		return fallback, nil
	}
	return v, nil
}
