package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mtlprog/pms/internal/cache"
)

func TestKey_NullsAreDistinguishable(t *testing.T) {
	todo := "TODO"
	project := "p1"

	statusOnly := cache.Key("findAll", &todo, nil, nil)
	projectOnly := cache.Key("findAll", nil, nil, &project)
	none := cache.Key("findAll", (*string)(nil), nil, nil)

	assert.Equal(t, `findAll:"TODO":null:null`, statusOnly)
	assert.Equal(t, `findAll:null:null:"p1"`, projectOnly)
	assert.Equal(t, "findAll:null:null:null", none)
	assert.NotEqual(t, statusOnly, projectOnly)
}

func TestKey_QuotingPreventsCollisions(t *testing.T) {
	a := cache.Key("m", "a:b", "c")
	b := cache.Key("m", "a", "b:c")
	assert.NotEqual(t, a, b)
}

func TestKey_LiteralNullStringDiffersFromNil(t *testing.T) {
	s := "null"
	assert.NotEqual(t, cache.Key("m", &s), cache.Key("m", nil))
}

func TestKey_Deterministic(t *testing.T) {
	assert.Equal(t, cache.Key("page", 0, 20), cache.Key("page", 0, 20))
}
