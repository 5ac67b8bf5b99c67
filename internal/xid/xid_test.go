package xid

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewIsUnique(t *testing.T) {
	a, b := New("sale"), New("sale")
	assert.True(t, strings.HasPrefix(a, "sale-"))
	assert.NotEqual(t, a, b)
}

func TestSequence(t *testing.T) {
	assert.Equal(t, "KFE-000001", Sequence("KFE", 1))
	assert.Equal(t, "KFE-1234567", Sequence("KFE", 1234567))
}

func TestFromClock(t *testing.T) {
	at := time.UnixMilli(1710041400123)
	assert.Equal(t, "KFE-400123", FromClock("KFE", at))
}
