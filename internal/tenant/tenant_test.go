package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContext(t *testing.T) {
	ctx := NewContext(context.Background(), "org-001")

	orgID, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "org-001", orgID)
}

func TestFromContext_Unbound(t *testing.T) {
	orgID, ok := FromContext(context.Background())
	assert.False(t, ok)
	assert.Empty(t, orgID)
}

func TestFromContext_EmptyOrg(t *testing.T) {
	ctx := NewContext(context.Background(), "")

	_, ok := FromContext(ctx)
	assert.False(t, ok)
}

func TestNewContext_DoesNotLeakAcrossContexts(t *testing.T) {
	parent := context.Background()
	scoped := NewContext(parent, "org-001")

	// The parent must stay unscoped; a sibling task derived from the same
	// parent must not observe another task's org.
	assert.Empty(t, OrgID(parent))
	assert.Equal(t, "org-001", OrgID(scoped))

	sibling := NewContext(parent, "org-002")
	assert.Equal(t, "org-002", OrgID(sibling))
	assert.Equal(t, "org-001", OrgID(scoped))
}
