package script

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.starlark.net/starlark"
)

var regexCache sync.Map // pattern -> *regexp.Regexp

func compileRegex(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	actual, _ := regexCache.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp), nil
}

// parse_regex(value, pattern) returns a dict of named capture groups, or None
// when the pattern does not match. Unnamed groups are keyed by index.
func parseRegex(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value, pattern string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "value", &value, "pattern", &pattern); err != nil {
		return nil, err
	}
	re, err := compileRegex(pattern)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	m := re.FindStringSubmatch(value)
	if m == nil {
		return starlark.None, nil
	}
	names := re.SubexpNames()
	d := starlark.NewDict(len(m) - 1)
	for i := 1; i < len(m); i++ {
		key := names[i]
		if key == "" {
			key = fmt.Sprint(i)
		}
		if err := d.SetKey(starlark.String(key), starlark.String(m[i])); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// parse_kv(value, field_sep=" ", kv_sep="=") splits "a=1 b=2" style text.
// Fields without a separator are ignored.
func parseKV(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value string
	fieldSep, kvSep := " ", "="
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "value", &value, "field_sep?", &fieldSep, "kv_sep?", &kvSep); err != nil {
		return nil, err
	}
	if fieldSep == "" || kvSep == "" {
		return nil, fmt.Errorf("%s: separators must not be empty", b.Name())
	}
	d := starlark.NewDict(8)
	for _, field := range strings.Split(value, fieldSep) {
		k, v, ok := strings.Cut(field, kvSep)
		if !ok || k == "" {
			continue
		}
		if err := d.SetKey(starlark.String(k), starlark.String(strings.Trim(v, `"`))); err != nil {
			return nil, err
		}
	}
	return d, nil
}
