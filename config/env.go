package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// envSource 把 PREFIX_SECTION_FIELD 形式的环境变量写入 env 标签对应字段
type envSource struct {
	prefix string
	lookup func(string) (string, bool)
}

func (e envSource) apply(cfg *Config) error {
	return e.walk(reflect.ValueOf(cfg).Elem(), e.prefix)
}

func (e envSource) walk(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		field := v.Field(i)

		if field.Kind() == reflect.Struct {
			if err := e.walk(field, key); err != nil {
				return err
			}
			continue
		}
		raw, ok := e.lookup(key)
		if !ok || raw == "" {
			continue
		}
		if err := assign(field, raw); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

// assign 解析 raw 并写入字段；切片按逗号分隔
func assign(field reflect.Value, raw string) error {
	if !field.CanSet() {
		return nil
	}

	switch ptr := field.Addr().Interface().(type) {
	case *time.Duration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*ptr = d
		return nil
	case *[]string:
		parts := strings.Split(raw, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*ptr = out
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}
