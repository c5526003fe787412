package starbind

import (
	"fmt"
	"reflect"

	"go.starlark.net/starlark"
)

// toStarlark converts a Go value into a starlark.Value. Numbers, strings
// and booleans are copied, slices and structs are wrapped so that scripts
// see the live Go value. Named non-struct types with a String method, like
// target.Protection, are converted to their string form.
func (env *Env) toStarlark(v interface{}) starlark.Value {
	switch v := v.(type) {
	case nil:
		return starlark.None
	case starlark.Value:
		return v
	case error:
		return starlark.String(v.Error())
	case map[string]uint64:
		r := starlark.NewDict(len(v))
		for k, n := range v {
			r.SetKey(starlark.String(k), starlark.MakeUint64(n))
		}
		return r
	}

	rv := reflect.ValueOf(v)
	if s, ok := v.(fmt.Stringer); ok && rv.Kind() != reflect.Struct && rv.Kind() != reflect.Ptr {
		return starlark.String(s.String())
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return starlark.MakeInt64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return starlark.MakeUint64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return starlark.Float(rv.Float())
	case reflect.Bool:
		return starlark.Bool(rv.Bool())
	case reflect.String:
		return starlark.String(rv.String())
	case reflect.Ptr:
		if rv.IsNil() {
			return starlark.None
		}
		if rv.Elem().Kind() == reflect.Struct {
			return goStruct{rv.Elem(), env}
		}
		return env.toStarlark(rv.Elem().Interface())
	case reflect.Struct:
		return goStruct{rv, env}
	case reflect.Slice, reflect.Array:
		return goSlice{rv, env}
	}
	return starlark.String(fmt.Sprintf("%v", v))
}

// goSlice exposes a Go slice as a starlark sequence.
type goSlice struct {
	v   reflect.Value
	env *Env
}

var (
	_ starlark.Indexable = goSlice{}
	_ starlark.Sequence  = goSlice{}
)

func (s goSlice) Freeze()               {}
func (s goSlice) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: %s", s.Type()) }
func (s goSlice) String() string        { return fmt.Sprintf("%v", s.v.Interface()) }
func (s goSlice) Truth() starlark.Bool  { return s.v.Len() != 0 }
func (s goSlice) Type() string          { return s.v.Type().String() }
func (s goSlice) Len() int              { return s.v.Len() }
func (s goSlice) Index(i int) starlark.Value {
	return s.env.toStarlark(s.v.Index(i).Interface())
}

func (s goSlice) Iterate() starlark.Iterator {
	return &goSliceIterator{s: s}
}

type goSliceIterator struct {
	s   goSlice
	cur int
}

func (it *goSliceIterator) Next(p *starlark.Value) bool {
	if it.cur >= it.s.Len() {
		return false
	}
	*p = it.s.Index(it.cur)
	it.cur++
	return true
}

func (it *goSliceIterator) Done() {}

// goStruct exposes the exported fields of a Go struct as attributes.
type goStruct struct {
	v   reflect.Value
	env *Env
}

var _ starlark.HasAttrs = goStruct{}

func (s goStruct) Freeze()               {}
func (s goStruct) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: %s", s.Type()) }
func (s goStruct) Truth() starlark.Bool  { return true }
func (s goStruct) Type() string          { return s.v.Type().String() }

func (s goStruct) String() string {
	if str, ok := s.v.Interface().(fmt.Stringer); ok {
		return str.String()
	}
	return fmt.Sprintf("%+v", s.v.Interface())
}

func (s goStruct) Attr(name string) (starlark.Value, error) {
	f, ok := s.v.Type().FieldByName(name)
	if !ok || !f.IsExported() {
		return nil, fmt.Errorf("%s has no field %q", s.Type(), name)
	}
	return s.env.toStarlark(s.v.FieldByIndex(f.Index).Interface()), nil
}

func (s goStruct) AttrNames() []string {
	typ := s.v.Type()
	names := make([]string, 0, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		if typ.Field(i).IsExported() {
			names = append(names, typ.Field(i).Name)
		}
	}
	return names
}
