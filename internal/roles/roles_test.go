package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticPolicyCheck(t *testing.T) {
	policy := NewStaticPolicy().
		Grant(RoleRouter, "router").
		Grant(RoleManager, "manager").
		Grant(RoleManager, "ops")

	assert.NoError(t, policy.Check("router", RoleRouter))
	assert.NoError(t, policy.Check("manager", RoleManager))
	assert.NoError(t, policy.Check("ops", RoleManager))

	// Roles do not imply each other
	assert.ErrorIs(t, policy.Check("router", RoleManager), ErrForbidden)
	assert.ErrorIs(t, policy.Check("manager", RoleRouter), ErrForbidden)

	assert.ErrorIs(t, policy.Check("stranger", RoleRouter), ErrForbidden)
	assert.ErrorIs(t, policy.Check("router", RoleUpgrader), ErrForbidden)
}

func TestStaticPolicyRejectsEmptyCaller(t *testing.T) {
	policy := NewStaticPolicy().Grant(RoleRouter, "")

	// An empty identity never passes, even if somehow granted
	assert.ErrorIs(t, policy.Check("", RoleRouter), ErrForbidden)
}
