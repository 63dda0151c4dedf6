// Package hook lets user rules rewrite a row right before it is inserted.
package hook

import (
	"fmt"

	"github.com/fatih/color"
)

// Row is the view of a pending row a hook may touch. Values can be
// rewritten and non-key entries excluded; entries cannot be added.
type Row interface {
	Count() int
	Column(index int) string
	Value(index int) string
	IsKey(index int) bool
	SetValue(index int, v string)
	Exclude(index int) bool
	IndexOfColumn(column string) int
}

type Hook interface {
	BeforeInsert(table string, r Row) error
}

type Noop struct{}

func (Noop) BeforeInsert(string, Row) error { return nil }

// Func adapts a plain function to Hook.
type Func func(table string, r Row) error

func (f Func) BeforeInsert(table string, r Row) error { return f(table, r) }

// Guard calls a hook for one import run and switches it off after its
// first failure.
type Guard struct {
	hook     Hook
	disabled bool
	warn     func(format string, a ...interface{})
}

func NewGuard(h Hook) *Guard {
	if h == nil {
		h = Noop{}
	}
	return &Guard{hook: h, warn: color.Yellow}
}

// Call runs the hook unless it has been disabled. Mutations made before a
// failure are kept.
func (g *Guard) Call(table string, r Row) {
	if g.disabled {
		return
	}
	if err := g.invoke(table, r); err != nil {
		g.disabled = true
		g.warn("⚠️  Hook failed on table %s, disabled for the rest of the run: %v", table, err)
	}
}

// invoke turns a panicking hook into an ordinary failure.
func (g *Guard) invoke(table string, r Row) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panicked: %v", p)
		}
	}()
	return g.hook.BeforeInsert(table, r)
}

func (g *Guard) Disabled() bool { return g.disabled }

// SetWarn replaces the warning printer.
func (g *Guard) SetWarn(fn func(format string, a ...interface{})) {
	g.warn = fn
}
