package config

import (
	"encoding"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Defaults 把带 mapstructure 标签的默认配置展开为 viper 默认值
// 键为点分路径（"ws.auth_timeout"），用于 WithDefaults
//
// 跳过标签为 "-" 的字段、函数、接口、通道与 nil 指针；
// time.Duration 与实现 encoding.TextUnmarshaler 的类型写成字符串，
// 与 Unmarshal 的解码钩子对称。
func Defaults(prefix string, v any) map[string]any {
	out := make(map[string]any)
	flatten(out, prefix, reflect.ValueOf(v))
	return out
}

var (
	durationType  = reflect.TypeOf(time.Duration(0))
	unmarshalType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

func flatten(out map[string]any, key string, v reflect.Value) {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}

	switch {
	case v.Type() == durationType:
		out[key] = time.Duration(v.Int()).String()
		return
	case reflect.PointerTo(v.Type()).Implements(unmarshalType) && v.Kind() != reflect.Struct:
		if s, ok := v.Interface().(fmt.Stringer); ok {
			out[key] = s.String()
			return
		}
	}

	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name, squash := fieldName(field)
			if name == "-" {
				continue
			}
			if squash {
				flatten(out, key, v.Field(i))
				continue
			}
			flatten(out, join(key, name), v.Field(i))
		}
	case reflect.Func, reflect.Interface, reflect.Chan, reflect.UnsafePointer:
	case reflect.Map, reflect.Slice:
		if v.IsNil() || v.Len() == 0 {
			return
		}
		out[key] = v.Interface()
	default:
		if key != "" {
			out[key] = v.Interface()
		}
	}
}

// fieldName 解析 mapstructure 标签，未设置时使用小写字段名
func fieldName(f reflect.StructField) (string, bool) {
	tag, ok := f.Tag.Lookup("mapstructure")
	if !ok {
		return strings.ToLower(f.Name), false
	}
	name, opts, _ := strings.Cut(tag, ",")
	squash := strings.Contains(opts, "squash")
	if name == "" && !squash {
		name = strings.ToLower(f.Name)
	}
	return name, squash
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
