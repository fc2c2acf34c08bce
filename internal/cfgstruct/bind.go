// Package cfgstruct binds a nested config struct to a pflag.FlagSet by
// reflecting over `default:".."` struct tags, the way every obscore binary
// builds its flag set from a single Config struct instead of hand-writing
// one flag per field.
package cfgstruct

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// BindOpt configures Bind's behavior.
type BindOpt func(*bindContext)

type bindContext struct {
	confDir string
	nested  bool
}

// ConfDir substitutes ${CONFDIR} / $CONFDIR in default tags with dir.
func ConfDir(dir string) BindOpt {
	return func(b *bindContext) { b.confDir = dir }
}

// ConfDirNested behaves like ConfDir but additionally namespaces nested
// struct defaults under their own subdirectory, matching the teacher's
// ConfDirNested behavior for multi-service configs sharing one data root.
func ConfDirNested(dir string) BindOpt {
	return func(b *bindContext) { b.confDir = dir; b.nested = true }
}

// Bind walks config's fields recursively and registers one flag per leaf
// field, using the `default` tag (with ${CONFDIR} expansion) as the default
// value and a kebab-cased, dot-joined path as the flag name.
func Bind(flags *pflag.FlagSet, config interface{}, opts ...BindOpt) {
	ctx := &bindContext{}
	for _, opt := range opts {
		opt(ctx)
	}
	bindStruct(flags, "", reflect.ValueOf(config).Elem(), ctx, "")
}

func bindStruct(flags *pflag.FlagSet, prefix string, v reflect.Value, ctx *bindContext, subdir string) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		name := prefix + kebabCase(field.Name)

		if value.Kind() == reflect.Array {
			for j := 0; j < value.Len(); j++ {
				elemName := fmt.Sprintf("%s.%02d.", name, j)
				bindStruct(flags, elemName, value.Index(j), ctx, subdir)
			}
			continue
		}

		if value.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Duration(0)) {
			nextSubdir := subdir
			if ctx.nested {
				nextSubdir = joinPath(subdir, kebabCase(field.Name))
			}
			bindStruct(flags, name+".", value, ctx, nextSubdir)
			continue
		}

		def := expandConfDir(field.Tag.Get("default"), ctx, subdir)
		help := field.Tag.Get("help")
		bindLeaf(flags, name, help, def, value)
	}
}

func bindLeaf(flags *pflag.FlagSet, name, help, def string, value reflect.Value) {
	ptr := value.Addr().Interface()
	switch p := ptr.(type) {
	case *string:
		flags.StringVar(p, name, def, help)
	case *bool:
		b, _ := strconv.ParseBool(orZero(def, "false"))
		flags.BoolVar(p, name, b, help)
	case *int:
		n, _ := strconv.Atoi(orZero(def, "0"))
		flags.IntVar(p, name, n, help)
	case *int64:
		n, _ := strconv.ParseInt(orZero(def, "0"), 10, 64)
		flags.Int64Var(p, name, n, help)
	case *uint:
		n, _ := strconv.ParseUint(orZero(def, "0"), 10, 64)
		flags.UintVar(p, name, uint(n), help)
	case *uint64:
		n, _ := strconv.ParseUint(orZero(def, "0"), 10, 64)
		flags.Uint64Var(p, name, n, help)
	case *float64:
		f, _ := strconv.ParseFloat(orZero(def, "0"), 64)
		flags.Float64Var(p, name, f, help)
	case *time.Duration:
		d, _ := time.ParseDuration(orZero(def, "0s"))
		flags.DurationVar(p, name, d, help)
	default:
		// unsupported leaf kind: skip rather than panic, so new field
		// types added to a config struct don't break every binary.
	}
}

func orZero(s, zero string) string {
	if s == "" {
		return zero
	}
	return s
}

func expandConfDir(tag string, ctx *bindContext, subdir string) string {
	dir := ctx.confDir
	if subdir != "" {
		dir = joinPath(ctx.confDir, subdir)
	}
	tag = strings.ReplaceAll(tag, "${CONFDIR}", dir)
	tag = strings.ReplaceAll(tag, "$CONFDIR", dir)
	return tag
}

func joinPath(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + "/" + b
}

func kebabCase(s string) string {
	var out strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				out.WriteByte('-')
			}
			out.WriteRune(r - 'A' + 'a')
		} else {
			out.WriteRune(r)
		}
	}
	return out.String()
}
