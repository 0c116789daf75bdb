package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedcal/internal/config"
)

func TestNewGitHubValidatesConfig(t *testing.T) {
	tests := []struct {
		name  string
		repo  string
		token string
	}{
		{"missing token", "owner/repo", ""},
		{"repo without owner", "repo", "tok"},
		{"empty repo", "", "tok"},
		{"trailing slash", "owner/", "tok"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewGitHub(config.GitHubConfig{Repo: tc.repo, Branch: "main"}, tc.token)
			require.Error(t, err)
		})
	}
}

func TestNewGitHubSplitsRepo(t *testing.T) {
	g, err := NewGitHub(config.GitHubConfig{Repo: "someone/schedule-ics", Branch: "main"}, "tok")
	require.NoError(t, err)

	assert.Equal(t, "github", g.Name())
	assert.Equal(t, "someone", g.owner)
	assert.Equal(t, "schedule-ics", g.repo)
	assert.Equal(t, "main", g.branch)
}
