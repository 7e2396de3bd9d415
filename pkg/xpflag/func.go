package xpflag

import (
	"github.com/spf13/pflag"
)

// Func is a pflag.Value that delegates parsing to a callback, keeping the
// raw text for help output.
type Func struct {
	value string
	parse func(string) error
}

func NewFunc(parse func(string) error) *Func {
	return &Func{parse: parse}
}

// Set implements pflag.Value.
func (f *Func) Set(value string) error {
	if err := f.parse(value); err != nil {
		return err
	}
	f.value = value
	return nil
}

// String implements pflag.Value.
func (f *Func) String() string {
	return f.value
}

// Type implements pflag.Value.
func (f *Func) Type() string {
	return "string"
}

var _ pflag.Value = (*Func)(nil)
