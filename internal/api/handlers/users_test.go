package handlers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/arisu-i18n/arisu/internal/domain/users"
	"github.com/stretchr/testify/assert"
)

func TestJSONType(t *testing.T) {
	tests := map[string]string{
		`"x"`:    "string",
		`true`:   "boolean",
		` false`: "boolean",
		`12.5`:   "number",
		`-1`:     "number",
		`{}`:     "object",
		`[1]`:    "object",
		`null`:   "object",
		``:       "undefined",
	}
	for raw, want := range tests {
		assert.Equal(t, want, jsonType(json.RawMessage(raw)), raw)
	}
}

func TestPublicProfile(t *testing.T) {
	created := time.Date(2020, 8, 1, 0, 0, 0, 0, time.UTC)
	profile := publicProfile(&users.User{
		ID:          "u1",
		Username:    "noel",
		Email:       "noel@example.com",
		Contributor: true,
		CreatedAt:   created,
	})

	assert.Equal(t, "none", profile.GitHub)
	assert.Equal(t, []string{}, profile.Projects)
	assert.Equal(t, []string{}, profile.Organisations)

	payload, err := json.Marshal(profile)
	assert.NoError(t, err)
	assert.NotContains(t, string(payload), "noel@example.com")

	profile = publicProfile(&users.User{GitHub: "auguwu"})
	assert.Equal(t, "auguwu", profile.GitHub)
}
