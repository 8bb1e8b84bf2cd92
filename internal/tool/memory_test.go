package tool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWriteReadSearch(t *testing.T) {
	root := t.TempDir()
	tc := newTestContext(t)
	mem := NewMemoryTool(root)
	ctx := context.Background()

	_, err := mem.Execute(ctx, raw(t, MemoryInput{
		Action:  "write",
		Key:     "projects/cowork",
		Content: "The deploy target is fly.io\n",
	}), tc)
	require.NoError(t, err)

	res, err := mem.Execute(ctx, raw(t, MemoryInput{Action: "read", Key: "projects/cowork"}), tc)
	require.NoError(t, err)
	assert.Contains(t, res.Output, "fly.io")

	res, err = mem.Execute(ctx, raw(t, MemoryInput{Action: "search", Query: "deploy"}), tc)
	require.NoError(t, err)
	assert.Contains(t, res.Output, "projects/cowork.md")
}

func TestMemoryKeyEscapeRejected(t *testing.T) {
	mem := NewMemoryTool(t.TempDir())
	tc := newTestContext(t)

	_, err := mem.Execute(context.Background(), raw(t, MemoryInput{
		Action: "read",
		Key:    "../../etc/passwd",
	}), tc)
	assert.ErrorContains(t, err, "escapes")
}

func TestMemoryMissingKey(t *testing.T) {
	mem := NewMemoryTool(t.TempDir())
	tc := newTestContext(t)

	_, err := mem.Execute(context.Background(), raw(t, MemoryInput{Action: "read", Key: "nope"}), tc)
	assert.ErrorContains(t, err, "not found")
}

func TestSkillListAndLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "review.md"), []byte("# Review checklist"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "deploy"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deploy", "SKILL.md"), []byte("# Deploy steps"), 0644))

	skill := NewSkillTool([]string{dir})
	tc := newTestContext(t)
	ctx := context.Background()

	assert.ElementsMatch(t, []string{"review", "deploy"}, skill.ListSkills())

	res, err := skill.Execute(ctx, raw(t, SkillInput{}), tc)
	require.NoError(t, err)
	assert.Contains(t, res.Output, "review")

	res, err = skill.Execute(ctx, raw(t, SkillInput{Name: "deploy"}), tc)
	require.NoError(t, err)
	assert.Contains(t, res.Output, "Deploy steps")

	_, err = skill.Execute(ctx, raw(t, SkillInput{Name: "missing"}), tc)
	assert.ErrorContains(t, err, "not found")
}

func TestSkillProjectShadowsUser(t *testing.T) {
	project := t.TempDir()
	user := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, "deploy.md"), []byte("project version"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(user, "deploy.md"), []byte("user version"), 0644))

	skill := NewSkillTool([]string{project, user})
	res, err := skill.Execute(context.Background(), raw(t, SkillInput{Name: "deploy"}), newTestContext(t))
	require.NoError(t, err)
	assert.Equal(t, "project version", res.Output)
}

func TestWebSearchParsesDDGHTML(t *testing.T) {
	html := `<html><body>
	<div class="result">
		<a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2F&rut=x">The Go Programming Language</a>
		<a class="result__snippet" href="#">Build simple, secure, scalable systems.</a>
	</div>
	<div class="result">
		<a class="result__a" href="https://pkg.go.dev/">Go Packages</a>
	</div>
	</body></html>`

	results, err := parseDDGResults(html, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "The Go Programming Language", results[0].Title)
	assert.Equal(t, "https://go.dev/", results[0].URL)
	assert.Contains(t, results[0].Snippet, "scalable systems")
	assert.Equal(t, "https://pkg.go.dev/", results[1].URL)
}
