package git

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvironmentBranch(t *testing.T) {
	assert.Equal(t, "main", Dev.Branch())
	assert.Equal(t, "staging", Staging.Branch())
	assert.Equal(t, "production", Prod.Branch())
	assert.False(t, Environment("bogus").Valid())
}

func TestValidPromotion(t *testing.T) {
	assert.True(t, ValidPromotion(Dev, Staging))
	assert.True(t, ValidPromotion(Staging, Prod))
	assert.False(t, ValidPromotion(Dev, Prod))
	assert.False(t, ValidPromotion(Prod, Dev))
}

func TestKeyPath(t *testing.T) {
	assert.Equal(t, "config/pricing/default.yaml", KeyPath("pricing", "default"))
	assert.Equal(t, "config/pricing/.gitkeep", DomainSentinelPath("pricing"))
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("pricing"))
	assert.True(t, ValidName("my-domain_2"))
	assert.False(t, ValidName("-bad"))
	assert.False(t, ValidName("Bad"))
	assert.False(t, ValidName(""))
}

func TestIsReservedKey(t *testing.T) {
	assert.True(t, IsReservedKey("schema"))
	assert.True(t, IsReservedKey("SCHEMA"))
	assert.False(t, IsReservedKey("default"))
}
