package database

import (
	"testing"

	modelspkg "glimmer/internal/models"

	"github.com/stretchr/testify/require"
)

func TestPersistentModels_IncludesMessage(t *testing.T) {
	found := false
	for _, model := range PersistentModels() {
		if _, ok := model.(*modelspkg.Message); ok {
			found = true
			break
		}
	}
	require.True(t, found, "PersistentModels should include Message")
}
