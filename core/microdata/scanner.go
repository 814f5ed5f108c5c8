package microdata

import (
	"regexp"
	"strings"

	"onecore/core"
	"onecore/pkg/errcode"
)

// Occurrence is one hash-link found by FindAllHashLinks.
type Occurrence struct {
	Start    int // byte offset of the opening '<a' in the source string
	End      int // byte offset just past the closing '</a>'
	Hash     core.Hash
	IdHash   core.IdHash
	LinkKind core.LinkKind
}

var (
	spanItempropOpen = regexp.MustCompile(`^<span itemprop="([^"]*)">`)
	spanPlainOpen    = regexp.MustCompile(`^<span>`)
	spanScopeOpen    = regexp.MustCompile(`^<span itemscope>`)
	spanClose        = regexp.MustCompile(`^</span>`)
	divOpen          = regexp.MustCompile(`^<div [^>]*>`)
	divClose         = regexp.MustCompile(`^</div>`)
	linkTag          = regexp.MustCompile(`^<a (?:itemprop="([^"]*)" )?data-type="([^"]+)" href="([^"]+)">([^<]*)</a>`)
)

// FindAllHashLinks scans a microdata string and returns every itemprop to the
// ordered list of hash-links discovered under it. The scan is tolerant to
// arbitrary nesting depth: a hash-link's itemprop is read off the <a> tag
// itself when present, else inherited from the nearest enclosing
// <span itemprop=…> (per spec §4.2).
func FindAllHashLinks(data string) (map[string][]Occurrence, error) {
	result := make(map[string][]Occurrence)
	var stack []string // itemprop context, innermost last; "" = no field context
	pos := 0
	for pos < len(data) {
		rest := data[pos:]
		switch {
		case strings.HasPrefix(rest, "<a "):
			m := linkTag.FindStringSubmatch(rest)
			if m == nil {
				return nil, errcode.New(errcode.MalformedMicrodata, "malformed hash-link tag")
			}
			itemprop := m[1]
			if itemprop == "" {
				itemprop = topOf(stack)
			}
			occ := Occurrence{Start: pos, End: pos + len(m[0]), LinkKind: core.LinkKind(m[2])}
			if occ.LinkKind == core.LinkId {
				h, err := core.IdHashFromHex(m[3])
				if err != nil {
					return nil, errcode.Wrap(errcode.BadHash, "invalid id-hash in link", err)
				}
				occ.IdHash = h
			} else {
				h, err := core.HashFromHex(m[3])
				if err != nil {
					return nil, errcode.Wrap(errcode.BadHash, "invalid hash in link", err)
				}
				occ.Hash = h
			}
			result[itemprop] = append(result[itemprop], occ)
			pos += len(m[0])
		case strings.HasPrefix(rest, "<div "):
			m := divOpen.FindString(rest)
			if m == "" {
				return nil, errcode.New(errcode.MalformedMicrodata, "malformed div open tag")
			}
			stack = append(stack, "")
			pos += len(m)
		case strings.HasPrefix(rest, "</div>"):
			if len(stack) == 0 {
				return nil, errcode.New(errcode.MalformedMicrodata, "unbalanced </div>")
			}
			stack = stack[:len(stack)-1]
			pos += len(divClose.FindString(rest))
		case spanItempropOpen.MatchString(rest):
			m := spanItempropOpen.FindStringSubmatch(rest)
			stack = append(stack, m[1])
			pos += len(m[0])
		case spanScopeOpen.MatchString(rest):
			stack = append(stack, topOf(stack))
			pos += len(spanScopeOpen.FindString(rest))
		case spanPlainOpen.MatchString(rest):
			stack = append(stack, topOf(stack))
			pos += len(spanPlainOpen.FindString(rest))
		case spanClose.MatchString(rest):
			if len(stack) == 0 {
				return nil, errcode.New(errcode.MalformedMicrodata, "unbalanced </span>")
			}
			stack = stack[:len(stack)-1]
			pos += len(spanClose.FindString(rest))
		default:
			// Leaf text content: advance to the next tag start.
			next := strings.IndexByte(rest, '<')
			if next < 0 {
				pos = len(data)
			} else if next == 0 {
				// An unrecognized tag; advance one byte to guarantee progress.
				pos++
			} else {
				pos += next
			}
		}
	}
	if len(stack) != 0 {
		return nil, errcode.New(errcode.MalformedMicrodata, "unbalanced tags: unterminated nesting")
	}
	return result, nil
}

func topOf(stack []string) string {
	if len(stack) == 0 {
		return ""
	}
	return stack[len(stack)-1]
}
