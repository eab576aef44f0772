package avatar

import (
	"strings"
	"unicode/utf16"
)

// palette 固定 8 种颜色，顺序影响哈希结果，不要随意调整。
var palette = [...]string{
	"#FF6B6B",
	"#4ECDC4",
	"#45B7D1",
	"#96CEB4",
	"#FFEAA7",
	"#DFE6E9",
	"#A29BFE",
	"#FD79A8",
}

type Avatar struct {
	Color    string `json:"color"`
	Initials string `json:"initials"`
}

// Generate 根据用户名确定性地生成头像颜色与缩写，同名永远得到同一结果。
func Generate(username string) Avatar {
	return Avatar{Color: Color(username), Initials: Initials(username)}
}

// Color 对 UTF-16 码元求和后按调色板取模，与浏览器端的 charCodeAt 算法保持一致。
func Color(username string) string {
	sum := 0
	for _, u := range utf16.Encode([]rune(username)) {
		sum += int(u)
	}
	return palette[sum%len(palette)]
}

// Initials 取前两个以空格分隔的片段的首字母并转大写。
func Initials(username string) string {
	var b strings.Builder
	for _, tok := range strings.Split(username, " ") {
		for _, r := range tok {
			b.WriteRune(r)
			break
		}
	}
	up := []rune(strings.ToUpper(b.String()))
	if len(up) > 2 {
		up = up[:2]
	}
	return string(up)
}
