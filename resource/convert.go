// Copyright 2016-2025, Pulumi Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package resource

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/alchemy-run/alchemy/errs"
)

// ToProperty converts an arbitrary Go value into a PropertyValue via
// reflection, so provider authors can work with plain structs for props
// and output instead of building PropertyMap literals by hand. Struct
// fields are named by an `alchemy:"..."` tag, falling back to the field
// name with its first letter lowercased. *Output and *Secret are
// recognized specially, at the top level and in fields or elements;
// anything function/channel/unsafe-pointer shaped is a SerializationError
// (§4.8: "Function/opaque: ERROR").
func ToProperty(v any) (PropertyValue, error) {
	if v == nil {
		return NewNullProperty(), nil
	}
	switch x := v.(type) {
	case PropertyValue:
		return x, nil
	case *Output:
		return NewOutputProperty(x), nil
	case *Secret:
		return NewSecretProperty(x), nil
	case ResourceReference:
		return NewResourceRefProperty(x), nil
	case *Asset:
		return NewAssetProperty(x), nil
	}
	return toPropertyReflect(reflect.ValueOf(v))
}

func toPropertyReflect(rv reflect.Value) (PropertyValue, error) {
	switch rv.Kind() {
	case reflect.Invalid:
		return NewNullProperty(), nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return NewNullProperty(), nil
		}
		if rv.CanInterface() {
			switch x := rv.Interface().(type) {
			case *Output:
				return NewOutputProperty(x), nil
			case *Secret:
				return NewSecretProperty(x), nil
			case *Asset:
				return NewAssetProperty(x), nil
			}
		}
		return toPropertyReflect(rv.Elem())
	case reflect.Bool:
		return NewBoolProperty(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return NewNumberProperty(float64(rv.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return NewNumberProperty(float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return NewNumberProperty(rv.Float()), nil
	case reflect.String:
		return NewStringProperty(rv.String()), nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return NewNullProperty(), nil
		}
		items := make([]PropertyValue, rv.Len())
		for i := range items {
			pv, err := toPropertyReflect(rv.Index(i))
			if err != nil {
				return PropertyValue{}, err
			}
			items[i] = pv
		}
		return NewArrayProperty(items), nil
	case reflect.Map:
		if rv.IsNil() {
			return NewNullProperty(), nil
		}
		m := make(PropertyMap, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			pv, err := toPropertyReflect(iter.Value())
			if err != nil {
				return PropertyValue{}, err
			}
			m[fmt.Sprintf("%v", iter.Key().Interface())] = pv
		}
		return NewObjectProperty(m), nil
	case reflect.Struct:
		return toPropertyStruct(rv)
	default:
		return PropertyValue{}, fmt.Errorf("%w: cannot serialize Go value of kind %s", errs.ErrSerialization, rv.Kind())
	}
}

func toPropertyStruct(rv reflect.Value) (PropertyValue, error) {
	if out, ok := rv.Interface().(*Secret); ok {
		return NewSecretProperty(out), nil
	}
	t := rv.Type()
	m := make(PropertyMap, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, omitempty, skip := fieldName(f)
		if skip {
			continue
		}
		fv := rv.Field(i)
		if omitempty && isEmptyValue(fv) {
			continue
		}
		pv, err := toPropertyReflect(fv)
		if err != nil {
			return PropertyValue{}, fmt.Errorf("field %s: %w", f.Name, err)
		}
		m[name] = pv
	}
	return NewObjectProperty(m), nil
}

func fieldName(f reflect.StructField) (name string, omitempty, skip bool) {
	tag := f.Tag.Get("alchemy")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	if name == "" {
		name = strings.ToLower(f.Name[:1]) + f.Name[1:]
	}
	for _, p := range parts[1:] {
		if p == "omitempty" {
			omitempty = true
		}
	}
	return name, omitempty, false
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return v.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	case reflect.String:
		return v.Len() == 0
	default:
		return false
	}
}

// FromProperty decodes a PropertyValue into target, which must be a
// pointer. It is the inverse of ToProperty.
func FromProperty(pv PropertyValue, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("%w: FromProperty target must be a non-nil pointer", errs.ErrSerialization)
	}
	return fromPropertyReflect(pv, rv.Elem())
}

func fromPropertyReflect(pv PropertyValue, rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Ptr:
		if pv.IsNull() {
			rv.Set(reflect.Zero(rv.Type()))
			return nil
		}
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		return fromPropertyReflect(pv, rv.Elem())
	case reflect.Interface:
		rv.Set(reflect.ValueOf(pv))
		return nil
	case reflect.Bool:
		if !pv.IsBool() {
			return fmt.Errorf("%w: expected bool", errs.ErrSerialization)
		}
		rv.SetBool(pv.BoolValue())
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if !pv.IsNumber() {
			return fmt.Errorf("%w: expected number", errs.ErrSerialization)
		}
		rv.SetInt(int64(pv.NumberValue()))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if !pv.IsNumber() {
			return fmt.Errorf("%w: expected number", errs.ErrSerialization)
		}
		rv.SetUint(uint64(pv.NumberValue()))
		return nil
	case reflect.Float32, reflect.Float64:
		if !pv.IsNumber() {
			return fmt.Errorf("%w: expected number", errs.ErrSerialization)
		}
		rv.SetFloat(pv.NumberValue())
		return nil
	case reflect.String:
		if !pv.IsString() {
			return fmt.Errorf("%w: expected string", errs.ErrSerialization)
		}
		rv.SetString(pv.StringValue())
		return nil
	case reflect.Slice:
		if pv.IsNull() {
			return nil
		}
		if !pv.IsArray() {
			return fmt.Errorf("%w: expected array", errs.ErrSerialization)
		}
		items := pv.ArrayValue()
		out := reflect.MakeSlice(rv.Type(), len(items), len(items))
		for i, item := range items {
			if err := fromPropertyReflect(item, out.Index(i)); err != nil {
				return err
			}
		}
		rv.Set(out)
		return nil
	case reflect.Map:
		if pv.IsNull() {
			return nil
		}
		if !pv.IsObject() {
			return fmt.Errorf("%w: expected object", errs.ErrSerialization)
		}
		obj := pv.ObjectValue()
		out := reflect.MakeMapWithSize(rv.Type(), len(obj))
		for k, v := range obj {
			val := reflect.New(rv.Type().Elem()).Elem()
			if err := fromPropertyReflect(v, val); err != nil {
				return err
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()), val)
		}
		rv.Set(out)
		return nil
	case reflect.Struct:
		if rv.Type() == reflect.TypeOf(Secret{}) {
			if !pv.IsSecret() {
				return fmt.Errorf("%w: expected secret", errs.ErrSerialization)
			}
			rv.Set(reflect.ValueOf(*pv.SecretValue()))
			return nil
		}
		if !pv.IsObject() {
			return fmt.Errorf("%w: expected object", errs.ErrSerialization)
		}
		obj := pv.ObjectValue()
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name, _, skip := fieldName(f)
			if skip {
				continue
			}
			if v, ok := obj[name]; ok {
				if err := fromPropertyReflect(v, rv.Field(i)); err != nil {
					return fmt.Errorf("field %s: %w", f.Name, err)
				}
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: cannot decode into Go kind %s", errs.ErrSerialization, rv.Kind())
	}
}
