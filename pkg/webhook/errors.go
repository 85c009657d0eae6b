package webhook

import "github.com/tokmz/qiws/pkg/errors"

// 7000 段错误码：HTTP 回调
var (
	ErrInvalidConfig = errors.New(7001, "webhook: invalid config")
	ErrRejected      = errors.New(7002, "webhook: rejected")
	ErrUnavailable   = errors.New(7003, "webhook: upstream unavailable")
	ErrBadResponse   = errors.New(7004, "webhook: bad response")
)
