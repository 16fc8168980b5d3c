package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidReference is matched by errors for operations on ids that do not exist.
	ErrInvalidReference = errors.New("invalid reference")
	// ErrDuplicateID is matched by errors for creating an element whose id is taken.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrInvalidValue is matched by errors for out-of-range field values.
	ErrInvalidValue = errors.New("invalid value")
)

// ElementKind names what an id refers to.
type ElementKind string

const (
	KindNode    ElementKind = "node"
	KindEdge    ElementKind = "edge"
	KindElement ElementKind = "element"
)

// ReferenceError reports an id missing from the backing collections.
type ReferenceError struct {
	Kind ElementKind
	ID   string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *ReferenceError) Is(target error) bool {
	return target == ErrInvalidReference
}

// DuplicateIDError reports an attempt to create an element with an id already in use.
type DuplicateIDError struct {
	Kind ElementKind
	ID   string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("%s id %q already exists", e.Kind, e.ID)
}

func (e *DuplicateIDError) Is(target error) bool {
	return target == ErrDuplicateID
}

// ValueError reports a field holding a value outside its enum.
type ValueError struct {
	Field string
	Value string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

func (e *ValueError) Is(target error) bool {
	return target == ErrInvalidValue
}
