package microdata

import (
	"regexp"
	"sync"
)

var regexCache sync.Map // pattern string -> *regexp.Regexp

func matchRegex(pattern, s string) (bool, error) {
	if cached, ok := regexCache.Load(pattern); ok {
		return cached.(*regexp.Regexp).MatchString(s), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}
	regexCache.Store(pattern, re)
	return re.MatchString(s), nil
}
