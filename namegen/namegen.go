// Package namegen hands out human-readable run names, so that log lines from
// interleaved measurement runs over the same model stay tellable apart.
package namegen

import (
	vendor "github.com/anandvarma/namegen"
)

var gen = vendor.New()

type ID string

func Get() ID {
	return ID(gen.Get())
}

func (id ID) String() string {
	return string(id)
}
