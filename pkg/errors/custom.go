package errors

/*
	内置常用错误码（协议层，非关闭码）
*/

var (
	// ErrServer 服务器错误
	ErrServer = New(1000, "internal error")
	// ErrBadRequest 客户端请求错误
	ErrBadRequest = New(1001, "bad request")
	// ErrUnauthorized 未授权
	ErrUnauthorized = New(1002, "unauthorized")
	// ErrForbidden 禁止访问
	ErrForbidden = New(1003, "forbidden")
	// ErrNotFound 资源不存在
	ErrNotFound = New(1004, "not found")
)
