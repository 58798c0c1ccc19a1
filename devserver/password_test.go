package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	encoded, err := hashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$"))

	assert.True(t, verifyPassword("correct horse", encoded))
	assert.False(t, verifyPassword("wrong horse", encoded))
}

func TestHashesAreSalted(t *testing.T) {
	a, err := hashPassword("same input")
	require.NoError(t, err)
	b, err := hashPassword("same input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyRejectsMalformedEncoding(t *testing.T) {
	assert.False(t, verifyPassword("pw", ""))
	assert.False(t, verifyPassword("pw", "plaintext"))
	assert.False(t, verifyPassword("pw", "$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$a2V5"))
	assert.False(t, verifyPassword("pw", "$argon2id$v=19$m=bad$c2FsdA$a2V5"))
}
