package bus

import "github.com/tokmz/qiws/pkg/errors"

// 预定义错误
var (
	ErrBusClosed        = errors.New(5001, "bus client closed")
	ErrBusInvalidConfig = errors.New(5002, "bus invalid config")
	ErrBusConnection    = errors.New(5003, "bus connection failed")
	ErrBusPublish       = errors.New(5004, "bus publish failed")
	ErrBusSubscribe     = errors.New(5005, "bus subscribe failed")
)
