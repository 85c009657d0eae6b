package bus

import (
	"path"
	"strings"
)

// Match 判断频道是否命中模式
// 模式语法与 Redis PSUBSCRIBE 一致：* 任意字符串，? 单个字符，[...] 字符集
// path.Match 的 * 不跨越 '/'，匹配前把 '/' 换成普通字符
func Match(pattern, channel string) bool {
	ok, err := path.Match(unslash.Replace(pattern), unslash.Replace(channel))
	return err == nil && ok
}

var unslash = strings.NewReplacer("/", "\x00")

// matchAny 返回频道命中的模式；精确订阅命中时返回 ("", true)
func matchAny(channels, patterns []string, channel string) (string, bool) {
	for _, c := range channels {
		if c == channel {
			return "", true
		}
	}
	for _, p := range patterns {
		if Match(p, channel) {
			return p, true
		}
	}
	return "", false
}
