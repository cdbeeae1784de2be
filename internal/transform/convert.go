package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"

	"perceptlog/internal/ocsf"
)

var validate = validator.New()

// ToNative builds the dict handed to transform(event): "message" first, then
// metadata keys in sorted order.
func ToNative(r InputRecord) starlark.Value {
	d := starlark.NewDict(len(r.metadata) + 1)
	_ = d.SetKey(starlark.String("message"), starlark.String(r.message))
	keys := make([]string, 0, len(r.metadata))
	for k := range r.metadata {
		if k != "message" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		_ = d.SetKey(starlark.String(k), NativeFromJSON(r.metadata[k]))
	}
	return d
}

// NativeFromJSON maps a JSON-like Go value onto a Starlark value. It never
// fails: numbers become ints when integral and within int64, NaN and
// infinities become None, and unknown types fall back to their text form.
func NativeFromJSON(v any) starlark.Value {
	switch x := v.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(x)
	case string:
		return starlark.String(x)
	case []byte:
		return starlark.Bytes(x)
	case int:
		return starlark.MakeInt(x)
	case int8:
		return starlark.MakeInt64(int64(x))
	case int16:
		return starlark.MakeInt64(int64(x))
	case int32:
		return starlark.MakeInt64(int64(x))
	case int64:
		return starlark.MakeInt64(x)
	case uint:
		return starlark.MakeUint(x)
	case uint8:
		return starlark.MakeUint64(uint64(x))
	case uint16:
		return starlark.MakeUint64(uint64(x))
	case uint32:
		return starlark.MakeUint64(uint64(x))
	case uint64:
		return starlark.MakeUint64(x)
	case float32:
		return nativeFloat(float64(x))
	case float64:
		return nativeFloat(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return starlark.MakeInt64(i)
		}
		if f, err := x.Float64(); err == nil {
			return nativeFloat(f)
		}
		return starlark.String(x.String())
	case []any:
		elems := make([]starlark.Value, len(x))
		for i, e := range x {
			elems[i] = NativeFromJSON(e)
		}
		return starlark.NewList(elems)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := starlark.NewDict(len(x))
		for _, k := range keys {
			_ = d.SetKey(starlark.String(k), NativeFromJSON(x[k]))
		}
		return d
	case time.Time:
		return starlarktime.Time(x)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		elems := make([]starlark.Value, rv.Len())
		for i := range elems {
			elems[i] = NativeFromJSON(rv.Index(i).Interface())
		}
		return starlark.NewList(elems)
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			m := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				m[iter.Key().String()] = iter.Value().Interface()
			}
			return NativeFromJSON(m)
		}
	}
	return starlark.String(fmt.Sprint(v))
}

func nativeFloat(f float64) starlark.Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return starlark.None
	}
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return starlark.MakeInt64(int64(f))
	}
	return starlark.Float(f)
}

// ToJSON converts a Starlark value into plain Go values suitable for
// encoding/json. Timestamps render as RFC 3339 with nanoseconds in UTC and
// durations use Go duration text.
func ToJSON(v starlark.Value) (any, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.Int:
		if i, ok := x.Int64(); ok {
			return i, nil
		}
		if u, ok := x.Uint64(); ok {
			return u, nil
		}
		return nil, schemaErrorf("integer %s does not fit in 64 bits", x.String())
	case starlark.Float:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, nil
		}
		return f, nil
	case starlark.String:
		return string(x), nil
	case starlark.Bytes:
		return strings.ToValidUTF8(string(x), "\uFFFD"), nil
	case starlarktime.Time:
		return time.Time(x).UTC().Format(time.RFC3339Nano), nil
	case starlarktime.Duration:
		return time.Duration(x).String(), nil
	case *starlark.Dict:
		m := make(map[string]any, x.Len())
		for _, item := range x.Items() {
			k, ok := item[0].(starlark.String)
			if !ok {
				return nil, schemaErrorf("dict key %s is a %s, want string", item[0].String(), item[0].Type())
			}
			val, err := ToJSON(item[1])
			if err != nil {
				return nil, err
			}
			m[string(k)] = val
		}
		return m, nil
	case *starlark.List, starlark.Tuple, *starlark.Set:
		out := make([]any, 0, starlark.Len(v))
		iter := starlark.Iterate(v)
		defer iter.Done()
		var elem starlark.Value
		for iter.Next(&elem) {
			val, err := ToJSON(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		return out, nil
	default:
		return nil, schemaErrorf("unsupported value of type %s", v.Type())
	}
}

// FromNative decodes the script's return value into an OCSF event, failing
// with a schema error when required fields are absent or mistyped.
func FromNative(v starlark.Value) (*ocsf.Event, error) {
	raw, err := ToJSON(v)
	if err != nil {
		return nil, err
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, schemaErrorf("%s returned %s, want dict", "transform", v.Type())
	}
	var missing []string
	for _, k := range ocsf.RequiredFields {
		if val, ok := m[k]; !ok || val == nil {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, schemaErrorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	var ev ocsf.Event
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     &ev,
		DecodeHook: intRangeHook,
	})
	if err != nil {
		return nil, schemaErrorf("%v", err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, schemaErrorf("%v", err)
	}
	if err := validate.Struct(&ev); err != nil {
		return nil, schemaErrorf("%v", err)
	}
	return &ev, nil
}

// intRangeHook rejects numbers that do not fit the signed integer field they
// decode into; mapstructure would otherwise truncate them.
func intRangeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
	default:
		return data, nil
	}
	var n int64
	switch v := data.(type) {
	case int64:
		n = v
	case int:
		n = int64(v)
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("%d overflows %s", v, to)
		}
		n = int64(v)
	case float64:
		if v < math.MinInt64 || v >= math.MaxInt64 {
			return nil, fmt.Errorf("%g overflows %s", v, to)
		}
		n = int64(v)
	default:
		return data, nil
	}
	if reflect.Zero(to).OverflowInt(n) {
		return nil, fmt.Errorf("%v overflows %s", data, to)
	}
	return data, nil
}
