package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobFilterEmptyMatchesAll(t *testing.T) {
	f, err := NewGlobFilter(nil, nil)
	require.NoError(t, err)

	assert.True(t, f.Match(OriginClient, "anything"))
	assert.True(t, f.Match(OriginReplicated, ""))
	assert.Nil(t, f.Origins())
}

func TestGlobFilterKeyPatterns(t *testing.T) {
	f, err := NewGlobFilter([]string{"user:*", "session:{eu,us}:*", "cfg:**"}, nil)
	require.NoError(t, err)

	tests := []struct {
		key  string
		want bool
	}{
		{"user:42", true},
		{"user:42:profile", false}, // * stops at ':'
		{"session:eu:abc", true},
		{"session:apac:abc", false},
		{"cfg:a:b:c", true},
		{"order:1", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.Match(OriginClient, tt.key), tt.key)
	}
}

func TestGlobFilterOrigins(t *testing.T) {
	f, err := NewGlobFilter([]string{"k*"}, []string{OriginReplicated})
	require.NoError(t, err)

	assert.True(t, f.Match(OriginReplicated, "key"))
	assert.False(t, f.Match(OriginClient, "key"))
	assert.False(t, f.Match(OriginReplicated, "other"))
	assert.Equal(t, []string{OriginReplicated}, f.Origins())
}

func TestGlobFilterInvalidPattern(t *testing.T) {
	_, err := NewGlobFilter([]string{"user:[a-"}, nil)
	require.Error(t, err)
}

func BenchmarkGlobFilterMatch(b *testing.B) {
	f, _ := NewGlobFilter([]string{"user:*", "order:*"}, nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Match(OriginClient, "order:12345")
	}
}
