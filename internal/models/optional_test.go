package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptional_UnmarshalJSON(t *testing.T) {
	var body struct {
		IsFavorite  Optional[*bool]   `json:"isFavorite"`
		DisplayName Optional[*string] `json:"displayName"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"displayName": null}`), &body))
	assert.False(t, body.IsFavorite.Set, "absent field must not be set")
	assert.True(t, body.DisplayName.Set, "null field must be set")
	assert.Nil(t, body.DisplayName.Value)

	require.NoError(t, json.Unmarshal([]byte(`{"isFavorite": true, "displayName": "Home"}`), &body))
	require.True(t, body.IsFavorite.Set)
	require.NotNil(t, body.IsFavorite.Value)
	assert.True(t, *body.IsFavorite.Value)
	require.NotNil(t, body.DisplayName.Value)
	assert.Equal(t, "Home", *body.DisplayName.Value)
}

func TestLocationUpdate_Apply(t *testing.T) {
	name := "Home"
	loc := Location{Name: "London", DisplayName: &name, IsFavorite: true}

	LocationUpdate{}.Apply(&loc)
	assert.True(t, loc.IsFavorite)
	require.NotNil(t, loc.DisplayName)

	LocationUpdate{IsFavorite: Some(false)}.Apply(&loc)
	assert.False(t, loc.IsFavorite)
	require.NotNil(t, loc.DisplayName, "display name is untouched when absent")

	LocationUpdate{DisplayName: Some[*string](nil)}.Apply(&loc)
	assert.Nil(t, loc.DisplayName)
}

func TestLocationUpdate_Empty(t *testing.T) {
	assert.True(t, LocationUpdate{}.Empty())
	assert.False(t, LocationUpdate{IsFavorite: Some(true)}.Empty())
}
