package presence

import (
	"errors"

	"github.com/samber/oops"
)

// 错误分类：传输故障由重连循环本地恢复；引用故障视为 no-op；配置故障在启动时致命
var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrIdentityNotFound = errors.New("identity not found")
)

func configError(format string, args ...any) error {
	return oops.
		Code("invalid_config").
		In("config").
		Wrapf(ErrInvalidConfig, format, args...)
}

func frameError(kind string, format string, args ...any) error {
	return oops.
		Code("malformed_frame").
		In("protocol").
		With("type", kind).
		Wrapf(ErrMalformedFrame, format, args...)
}

func storeError(err error, backend, key string) error {
	return oops.
		Code("session_store").
		In("store").
		With("backend", backend).
		With("key", key).
		Wrap(err)
}
