// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the request conflicts with the current state of the entity.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates a request or entity failed structural validation.
var ErrValidation = errors.New("validation failed")
