package endpointset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickRoundRobin(t *testing.T) {
	var s Set
	_, err := s.Pick("proxy")
	assert.ErrorContains(t, err, "proxy")

	s.Replace([]string{"http://a:80", "http://b:80"})
	require.Equal(t, 2, s.Len())

	var got []string
	for range 4 {
		addr, err := s.Pick("proxy")
		require.NoError(t, err)
		got = append(got, addr)
	}
	assert.Equal(t, []string{"http://a:80", "http://b:80", "http://a:80", "http://b:80"}, got)
}

func TestReplaceCopiesInput(t *testing.T) {
	var s Set
	in := []string{"http://a:80"}
	s.Replace(in)
	in[0] = "changed"

	addr, err := s.Pick("proxy")
	require.NoError(t, err)
	assert.Equal(t, "http://a:80", addr)
}
