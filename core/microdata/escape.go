package microdata

import "strings"

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

var unescaper = strings.NewReplacer(
	"&quot;", `"`,
	"&gt;", ">",
	"&lt;", "<",
	"&amp;", "&",
)

func escapeText(s string) string   { return escaper.Replace(s) }
func unescapeText(s string) string { return unescaper.Replace(s) }
