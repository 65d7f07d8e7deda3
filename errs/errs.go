package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrUnknownEntity      = errors.New("unknown entity")
	ErrUnknownField       = errors.New("unknown field")
	ErrMalformedQueryName = errors.New("malformed query name")
	ErrMalformedQuery     = errors.New("malformed query")
	ErrTypeMismatch       = errors.New("type mismatch")
	ErrUnboundParameter   = errors.New("unbound parameter")
	ErrUnusedParameter    = errors.New("unused parameter")
	ErrNoResult           = errors.New("no result")
	ErrNonUniqueResult    = errors.New("non unique result")
	ErrUnsupported        = errors.New("unsupported")
)

// StorageError 存储层返回的错误，原样保留底层错误
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Cause() error {
	return e.Err
}

// Storage 标记错误来自存储层，已经标记过的错误不再重复包装
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorage 判断错误是否来自存储层
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
