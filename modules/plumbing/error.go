// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package plumbing

import (
	"errors"
	"fmt"
)

var (
	//ErrStop is used to stop a ForEach function in an Iter
	ErrStop = errors.New("stop iter")
)

// Kind names one member of the error taxonomy. Kinds are stable wire
// identifiers: the HTTP layer maps each kind onto a status code and
// serializes it into the "exception" field of error bodies.
type Kind string

const (
	KindEntryNotFound      Kind = "EntryNotFound"
	KindRevisionNotFound   Kind = "RevisionNotFound"
	KindRepositoryNotFound Kind = "RepositoryNotFound"
	KindProjectNotFound    Kind = "ProjectNotFound"
	KindRepositoryExists   Kind = "RepositoryExists"
	KindProjectExists      Kind = "ProjectExists"
	KindInvalidPush        Kind = "InvalidPush"
	KindChangeConflict     Kind = "ChangeConflict"
	KindRedundantChange    Kind = "RedundantChange"
	KindQueryExecution     Kind = "QueryExecution"
	KindChangeFormat       Kind = "ChangeFormat"
	KindAuthorization      Kind = "Authorization"
	KindReadOnly           Kind = "ReadOnly"
	KindQuotaExceeded      Kind = "QuotaExceeded"
	KindShuttingDown       Kind = "ShuttingDown"
	KindBadRequest         Kind = "BadRequest"
)

// StoreError is a typed value for every failure mode of the commit engine
// and its callers. Operations return these as ordinary errors; none of them
// is ever raised as a panic.
type StoreError struct {
	kind    Kind
	message string
}

func (e *StoreError) Error() string {
	return e.message
}

func (e *StoreError) Kind() Kind {
	return e.kind
}

// NewError creates a StoreError of an arbitrary kind.
func NewError(kind Kind, format string, a ...any) error {
	return &StoreError{kind: kind, message: fmt.Sprintf(format, a...)}
}

// KindOf extracts the taxonomy kind from err, unwrapping as needed.
func KindOf(err error) (Kind, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se.kind, true
	}
	return "", false
}

func isKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func NewErrEntryNotFound(format string, a ...any) error {
	return NewError(KindEntryNotFound, format, a...)
}

func IsErrEntryNotFound(err error) bool { return isKind(err, KindEntryNotFound) }

func NewErrRevisionNotFound(format string, a ...any) error {
	return NewError(KindRevisionNotFound, format, a...)
}

func IsErrRevisionNotFound(err error) bool { return isKind(err, KindRevisionNotFound) }

func NewErrRepositoryNotFound(format string, a ...any) error {
	return NewError(KindRepositoryNotFound, format, a...)
}

func IsErrRepositoryNotFound(err error) bool { return isKind(err, KindRepositoryNotFound) }

func NewErrProjectNotFound(format string, a ...any) error {
	return NewError(KindProjectNotFound, format, a...)
}

func IsErrProjectNotFound(err error) bool { return isKind(err, KindProjectNotFound) }

func NewErrRepositoryExists(format string, a ...any) error {
	return NewError(KindRepositoryExists, format, a...)
}

func IsErrRepositoryExists(err error) bool { return isKind(err, KindRepositoryExists) }

func NewErrProjectExists(format string, a ...any) error {
	return NewError(KindProjectExists, format, a...)
}

func IsErrProjectExists(err error) bool { return isKind(err, KindProjectExists) }

func NewErrInvalidPush(format string, a ...any) error {
	return NewError(KindInvalidPush, format, a...)
}

func IsErrInvalidPush(err error) bool { return isKind(err, KindInvalidPush) }

func NewErrChangeConflict(format string, a ...any) error {
	return NewError(KindChangeConflict, format, a...)
}

func IsErrChangeConflict(err error) bool { return isKind(err, KindChangeConflict) }

func NewErrRedundantChange(format string, a ...any) error {
	return NewError(KindRedundantChange, format, a...)
}

func IsErrRedundantChange(err error) bool { return isKind(err, KindRedundantChange) }

func NewErrQueryExecution(format string, a ...any) error {
	return NewError(KindQueryExecution, format, a...)
}

func IsErrQueryExecution(err error) bool { return isKind(err, KindQueryExecution) }

func NewErrChangeFormat(format string, a ...any) error {
	return NewError(KindChangeFormat, format, a...)
}

func IsErrChangeFormat(err error) bool { return isKind(err, KindChangeFormat) }

func NewErrAuthorization(format string, a ...any) error {
	return NewError(KindAuthorization, format, a...)
}

func IsErrAuthorization(err error) bool { return isKind(err, KindAuthorization) }

func NewErrReadOnly(format string, a ...any) error {
	return NewError(KindReadOnly, format, a...)
}

func IsErrReadOnly(err error) bool { return isKind(err, KindReadOnly) }

func NewErrQuotaExceeded(format string, a ...any) error {
	return NewError(KindQuotaExceeded, format, a...)
}

func IsErrQuotaExceeded(err error) bool { return isKind(err, KindQuotaExceeded) }

func NewErrShuttingDown(format string, a ...any) error {
	return NewError(KindShuttingDown, format, a...)
}

func IsErrShuttingDown(err error) bool { return isKind(err, KindShuttingDown) }

func NewErrBadRequest(format string, a ...any) error {
	return NewError(KindBadRequest, format, a...)
}

func IsErrBadRequest(err error) bool { return isKind(err, KindBadRequest) }

// noSuchObject is an error type that occurs when no object with a given
// object ID is available in the object store.
type noSuchObject struct {
	oid Hash
}

func (e *noSuchObject) Error() string {
	return fmt.Sprintf("dogma: no such object: %s", e.oid)
}

// NoSuchObject creates a new error representing a missing object with a
// given object ID.
func NoSuchObject(oid Hash) error {
	return &noSuchObject{oid: oid}
}

// IsNoSuchObject indicates whether an error is a noSuchObject and is non-nil.
func IsNoSuchObject(e error) bool {
	if e == nil {
		return false
	}
	err, ok := e.(*noSuchObject)
	return ok && err != nil
}
