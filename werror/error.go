// Package werror provides lightweight error wrapping that records the
// call site (file, line, function) and an optional context map, the way
// errors are threaded through the produce and consume paths of this
// module.
package werror

import (
	"fmt"
	"runtime"
	"strings"
)

// callSite names where an error was wrapped.
type callSite struct {
	file     string
	line     int
	function string
}

func (s callSite) String() string {
	return fmt.Sprintf("%s:%d", s.function, s.line)
}

// Wrapper wraps an error with the call site where it was wrapped and an
// optional, already-rendered context suffix.
type Wrapper struct {
	err  error
	site callSite

	// ctxSuffix is the "{k=v...}" text WrapWithContext renders once at
	// wrap time, or "" when no context was given. Rendering eagerly
	// keeps Error() a plain concatenation instead of a map walk.
	ctxSuffix string
}

// Error returns the call site and any context, followed by the wrapped
// error's own message.
func (w Wrapper) Error() string {
	parts := make([]string, 0, 3)
	parts = append(parts, w.site.String())
	if w.ctxSuffix != "" {
		parts = append(parts, w.ctxSuffix)
	}
	if w.err != nil {
		parts = append(parts, "->"+w.err.Error())
	}
	return strings.Join(parts, "")
}

func renderContext(context map[string]interface{}) string {
	if context == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("{")
	for k, v := range context {
		fmt.Fprintf(&b, "%s=%v", k, v)
	}
	b.WriteString("}")
	return b.String()
}

// Unwrap returns the wrapped error, so errors.Is/As see through it.
func (w Wrapper) Unwrap() error {
	return w.err
}

// File returns the file where the error was wrapped.
func (w Wrapper) File() string { return w.site.file }

// Line returns the line where the error was wrapped.
func (w Wrapper) Line() int { return w.site.line }

// Function returns the function where the error was wrapped.
func (w Wrapper) Function() string { return w.site.function }

// Wrap wraps err with the caller's file, line, and function. Returns nil
// if err is nil.
func Wrap(err error) error {
	return wrap(err, nil)
}

// WrapWithContext wraps err with the caller's file, line, function, and
// the given context. Returns nil if err is nil.
func WrapWithContext(err error, context map[string]interface{}) error {
	return wrap(err, context)
}

// wrap records the call site two frames up: the caller of the exported
// Wrap* function that called it.
func wrap(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}

	pc, file, line, _ := runtime.Caller(2)
	fn := runtime.FuncForPC(pc)

	return Wrapper{
		err: err,
		site: callSite{
			file:     file,
			line:     line,
			function: fn.Name(),
		},
		ctxSuffix: renderContext(context),
	}
}

// WrapWithMsg wraps err with a short human-readable message as context.
func WrapWithMsg(err error, msg string) error {
	if err == nil {
		return nil
	}
	return wrap(err, map[string]interface{}{"msg": msg})
}
