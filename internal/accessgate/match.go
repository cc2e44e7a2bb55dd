package accessgate

import (
	"path"
	"strings"
)

// MatchPath はpathがいずれかのルールと一致するかを返す。
// ルールと完全一致するか、ルール + "/" で始まる場合に一致とみなす。
// "/admin2" は "/admin" に一致しない。
func MatchPath(path string, rules []string) bool {
	for _, rule := range rules {
		if matchRule(path, rule) {
			return true
		}
	}
	return false
}

func matchRule(path, rule string) bool {
	if path == rule {
		return true
	}
	return strings.HasPrefix(path, rule+"/")
}

// CanonicalPath はドットセグメントと連続するスラッシュを解決したパスを返す。
// 末尾のスラッシュは保持する。分類と転送は必ずこのパスで行う。
func CanonicalPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	clean := path.Clean(p)
	if clean != "/" && strings.HasSuffix(p, "/") {
		clean += "/"
	}
	return clean
}
