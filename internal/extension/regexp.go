package extension

import (
	"fmt"
	"regexp"

	lru "github.com/hashicorp/golang-lru"

	"github.com/nerrad567/litecore/internal/sqlval"
)

// patternCacheSize bounds the compiled patterns kept by regexp().
const patternCacheSize = 256

// patternCache maps pattern text to *regexp.Regexp. Shared by every
// connection; golang-lru caches are safe for concurrent use.
var patternCache = mustLRU(patternCacheSize)

func mustLRU(size int) *lru.Cache {
	c, err := lru.New(size)
	if err != nil {
		panic("extension: creating pattern cache: " + err.Error())
	}
	return c
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Get(pattern); ok {
		return cached.(*regexp.Regexp), nil //nolint:forcetypeassert // cache only holds *regexp.Regexp
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	patternCache.Add(pattern, re)
	return re, nil
}

// regexpMatch implements regexp(pattern, text), which the engine calls for
// "text REGEXP pattern". Patterns use RE2 syntax.
func regexpMatch(args []sqlval.Value) (sqlval.Value, error) {
	pattern, ok := args[0].Text()
	if !ok {
		return sqlval.Null(), nil
	}
	text, ok := args[1].Text()
	if !ok {
		return sqlval.Null(), nil
	}
	re, err := compilePattern(pattern)
	if err != nil {
		return sqlval.Null(), err
	}
	return sqlval.Bool(re.MatchString(text)), nil
}

func regexpFunctions() []Descriptor {
	return []Descriptor{
		{Name: "regexp", Arity: 2, Deterministic: true, Scalar: regexpMatch},
	}
}
