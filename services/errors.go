package services

import (
	"errors"
	"fmt"
)

// ErrorKind 隧道操作错误分类
type ErrorKind string

const (
	KindSpawn              ErrorKind = "SpawnError"
	KindCaptureTimeout     ErrorKind = "CaptureTimeout"
	KindTerminationTimeout ErrorKind = "TerminationTimeout"
	KindPersistence        ErrorKind = "PersistenceError"
	KindValidation         ErrorKind = "ValidationError"
)

var (
	ErrSpawn              = errors.New("spawn error")
	ErrCaptureTimeout     = errors.New("capture timeout")
	ErrTerminationTimeout = errors.New("termination timeout")
	ErrPersistence        = errors.New("persistence error")
	ErrValidation         = errors.New("validation error")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindSpawn:
		return ErrSpawn
	case KindCaptureTimeout:
		return ErrCaptureTimeout
	case KindTerminationTimeout:
		return ErrTerminationTimeout
	case KindPersistence:
		return ErrPersistence
	case KindValidation:
		return ErrValidation
	}
	return nil
}

/**
 * TunnelError 隧道操作错误
 * @property {ErrorKind} Kind - 错误分类
 * @property {string} Service - 相关服务名，可能为空
 * @property {error} Err - 底层错误
 * @description
 * - errors.Is(err, ErrValidation) 等按分类匹配
 * - errors.Is 也能继续匹配底层错误，例如 proc.ErrTerminationTimeout
 */
type TunnelError struct {
	Kind    ErrorKind
	Service string
	Err     error
}

func (e *TunnelError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Kind, e.Service, e.Err)
}

func (e *TunnelError) Unwrap() error {
	return e.Err
}

func (e *TunnelError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

func newTunnelError(kind ErrorKind, service string, err error) *TunnelError {
	return &TunnelError{Kind: kind, Service: service, Err: err}
}

func validationError(service, format string, args ...interface{}) *TunnelError {
	return newTunnelError(KindValidation, service, fmt.Errorf(format, args...))
}

// IsValidation 是否是请求参数错误，控制器据此返回400
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
