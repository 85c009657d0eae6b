package logger

import "fmt"

// Format 日志格式
type Format string

const (
	JSONFormat    Format = "json"
	ConsoleFormat Format = "console"
)

func (f Format) String() string { return string(f) }

// IsValid 只接受 json 与 console
func (f Format) IsValid() bool {
	return f == JSONFormat || f == ConsoleFormat
}

// UnmarshalText 配置文件中的格式名，大小写敏感，未知取值报错
func (f *Format) UnmarshalText(text []byte) error {
	v := Format(text)
	if v == "" {
		v = JSONFormat
	}
	if !v.IsValid() {
		return fmt.Errorf("unknown log format %q", text)
	}
	*f = v
	return nil
}
