package utils

import (
	"testing"

	"entitlement_ledger/internal/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken_RoundTrip(t *testing.T) {
	config.GlobalConfig.JWT.Secret = "0123456789abcdef0123456789abcdef"
	config.GlobalConfig.JWT.Expire = 1

	token, expireAt, err := GenerateToken("admin-1", RoleAdmin)
	require.NoError(t, err)
	require.NotNil(t, expireAt)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", claims.UserID)
	assert.Equal(t, RoleAdmin, claims.Role)

	_, err = ParseToken(token + "x")
	assert.Error(t, err)
}

func TestPagination_ListRange(t *testing.T) {
	p := Pagination{Page: 2, Limit: 10}
	start, stop := p.ListRange()
	assert.Equal(t, int64(10), start)
	assert.Equal(t, int64(19), stop)

	p = Pagination{Limit: 1000}
	start, stop = p.ListRange()
	assert.Equal(t, int64(0), start)
	assert.Equal(t, int64(199), stop)
}
