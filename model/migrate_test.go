package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/kasuganosora/rotation/model"
	"github.com/kasuganosora/rotation/testutil"
)

func TestAutoMigrate_InsertAndQuery(t *testing.T) {
	db := testutil.SetupTestDB(t)

	target := int64(10)
	dl := &model.DecisionLog{
		RunID:       "run-001",
		Tick:        7,
		AgentID:     1,
		Role:        "warlock",
		Outcome:     "success",
		Ability:     "shadow_bolt",
		TargetID:    &target,
		Issued:      true,
		GuardErrors: datatypes.JSON(`[]`),
	}
	require.NoError(t, db.Create(dl).Error)
	assert.Greater(t, dl.ID, int64(0))

	var found model.DecisionLog
	require.NoError(t, db.First(&found, dl.ID).Error)
	assert.Equal(t, "shadow_bolt", found.Ability)
	require.NotNil(t, found.TargetID)
	assert.Equal(t, int64(10), *found.TargetID)
	assert.False(t, found.CreatedAt.IsZero())

	rl := &model.RoleLoad{Role: "warlock", Status: model.RoleLoadOK, Nodes: 12}
	require.NoError(t, db.Create(rl).Error)
	assert.Greater(t, rl.ID, int64(0))
}
