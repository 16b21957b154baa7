package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCouponFormat(t *testing.T) {
	cases := map[string]bool{
		"OS-AB12-CD34":     true,
		"os-ab12-cd34":     true,
		" OS-AB12-CD34 ":   true,
		"VIPXYZ-0000-ZZZZ": true,
		"O-AB12-CD34":      false,
		"OSABCDE-AB12-CD3": false,
		"OS-AB12-CD345":    false,
		"OS-AB_2-CD34":     false,
		"AB12-CD34":        false,
		"":                 false,
	}
	for code, want := range cases {
		assert.Equal(t, want, IsCouponFormat(code), code)
	}
}

func TestRandomCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code, err := RandomCode("OS")
		assert.NoError(t, err)
		assert.True(t, IsCouponFormat(code), code)
		seen[code] = struct{}{}
	}
	assert.Len(t, seen, 200)
}

func TestDeriveCode(t *testing.T) {
	a := DeriveCode("OS", "secret-secret-16", "OS1700000000001")
	b := DeriveCode("OS", "secret-secret-16", "OS1700000000001")
	c := DeriveCode("OS", "secret-secret-16", "OS1700000000002")
	d := DeriveCode("OS", "another-secret-1", "OS1700000000001")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.True(t, IsCouponFormat(a), a)
}
