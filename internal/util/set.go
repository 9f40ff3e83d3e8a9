// Package util holds small generic helpers shared across the wire-level
// enum packages.
package util

import (
	"github.com/dgcore/discord/command"
	"github.com/dgcore/discord/event"
	"github.com/dgcore/discord/intent"
	"github.com/dgcore/discord/opcode"
)

var emptyStruct = struct{}{}

// Set is a plain membership set over the library's closed enum types.
type Set[T event.Type | intent.Type | opcode.Type | command.Type] map[T]struct{}

func (s Set[T]) Add(elements ...T) {
	for _, element := range elements {
		s[element] = emptyStruct
	}
}

func (s Set[T]) Remove(elements ...T) {
	for _, element := range elements {
		delete(s, element)
	}
}

func (s Set[T]) Contains(element T) bool {
	_, ok := s[element]
	return ok
}

func (s Set[T]) ToSlice() []T {
	elements := make([]T, 0, len(s))
	for element := range s {
		elements = append(elements, element)
	}
	return elements
}
