package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		channel string
		want    bool
	}{
		{"qiws:room:*", "qiws:room:lobby", true},
		{"qiws:room:*", "qiws:room:", true},
		{"qiws:room:*", "qiws:client:1", false},
		{"qiws:user:?", "qiws:user:7", true},
		{"qiws:user:[ab]", "qiws:user:c", false},
		{"qiws:broadcast", "qiws:broadcast", true},
		{"qiws:[", "qiws:[", false},
		{"qiws:room:*", "qiws:room:team/alpha", true},
		{"qiws:room:team?alpha", "qiws:room:team/alpha", true},
		{"qiws:room:a/[/]", "qiws:room:a//", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Match(tt.pattern, tt.channel), "%s vs %s", tt.pattern, tt.channel)
	}
}

func TestMatchAny(t *testing.T) {
	p, ok := matchAny([]string{"a"}, []string{"r:*"}, "a")
	assert.True(t, ok)
	assert.Empty(t, p)

	p, ok = matchAny([]string{"a"}, []string{"r:*"}, "r:1")
	assert.True(t, ok)
	assert.Equal(t, "r:*", p)

	_, ok = matchAny(nil, nil, "x")
	assert.False(t, ok)
}
