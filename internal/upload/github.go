package upload

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/go-github/v68/github"

	"schedcal/internal/config"
	appLog "schedcal/internal/log"
)

// GitHub commits calendar files into a repository branch and serves
// them through raw.githubusercontent.com.
type GitHub struct {
	client *github.Client
	owner  string
	repo   string
	branch string
}

// NewGitHub builds the GitHub backend. cfg.Repo is "owner/name".
func NewGitHub(cfg config.GitHubConfig, token string) (*GitHub, error) {
	if token == "" {
		return nil, fmt.Errorf("upload: github token is not configured")
	}
	owner, repo, ok := strings.Cut(cfg.Repo, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("upload: github repo must be owner/name, got %q", cfg.Repo)
	}

	return &GitHub{
		client: github.NewClient(nil).WithAuthToken(token),
		owner:  owner,
		repo:   repo,
		branch: cfg.Branch,
	}, nil
}

func (g *GitHub) Name() string { return "github" }

// Upload creates or updates one file per calendar on the configured
// branch. Updates need the current blob SHA, so each file costs a read
// before the write.
func (g *GitHub) Upload(ctx context.Context, contents map[string][]byte, paths map[string]string) (map[string]string, error) {
	appLog.Info("github upload start", "repo", g.owner+"/"+g.repo, "branch", g.branch, "files", len(contents))

	urls := make(map[string]string, len(contents))
	for _, name := range sortedKeys(contents) {
		remotePath := filepath.ToSlash(paths[name])

		url, err := g.uploadOne(ctx, name, remotePath, contents[name])
		if err != nil {
			return nil, err
		}
		urls[name] = url
	}

	appLog.Info("github upload completed", "urls", len(urls))
	return urls, nil
}

func (g *GitHub) uploadOne(ctx context.Context, name, remotePath string, content []byte) (string, error) {
	fileName := remotePath[strings.LastIndex(remotePath, "/")+1:]

	existing, _, resp, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, remotePath,
		&github.RepositoryContentGetOptions{Ref: g.branch})

	switch {
	case err == nil && existing != nil:
		appLog.Info("file exists, updating", "path", remotePath)
		opts := &github.RepositoryContentFileOptions{
			Message: github.String("Update " + fileName),
			Content: content,
			SHA:     existing.SHA,
			Branch:  github.String(g.branch),
		}
		if _, _, err := g.client.Repositories.UpdateFile(ctx, g.owner, g.repo, remotePath, opts); err != nil {
			return "", fmt.Errorf("upload: update %s: %w", remotePath, err)
		}

	case resp != nil && resp.StatusCode == http.StatusNotFound:
		appLog.Info("file does not exist, creating", "path", remotePath)
		opts := &github.RepositoryContentFileOptions{
			Message: github.String("Add " + fileName),
			Content: content,
			Branch:  github.String(g.branch),
		}
		if _, _, err := g.client.Repositories.CreateFile(ctx, g.owner, g.repo, remotePath, opts); err != nil {
			return "", fmt.Errorf("upload: create %s: %w", remotePath, err)
		}

	default:
		return "", fmt.Errorf("upload: stat %s: %w", remotePath, err)
	}

	url := fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", g.owner, g.repo, g.branch, remotePath)
	appLog.Info("uploaded calendar", "name", name, "url", url)
	return url, nil
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
