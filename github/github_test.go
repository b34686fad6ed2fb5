package github

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const treesJSON = `{
  "sha": "9fb037999f264ba9a7fc6274d15fa3ae2ab98312",
  "url": "https://api.github.com/repos/o/r/git/trees/9fb0",
  "truncated": false,
  "tree": [
    {"path": "README.md", "mode": "100644", "type": "blob", "sha": "a1", "url": "u1", "size": 132},
    {"path": "src", "mode": "040000", "type": "tree", "sha": "b2", "url": "u2"},
    {"path": "src/host.json", "mode": "100644", "type": "blob", "sha": "c3", "url": "u3", "size": 30},
    {"path": "src/api/host.json", "mode": "100644", "type": "blob", "sha": "d4", "url": "u4", "size": 31},
    {"path": "package.json", "mode": "040000", "type": "tree", "sha": "e5", "url": "u5"}
  ]
}`

func TestFindFile(t *testing.T) {
	var trees FileGetTrees
	require.NoError(t, json.Unmarshal([]byte(treesJSON), &trees))
	require.Len(t, trees.Tree, 5)
	assert.Nil(t, trees.Tree[1].Size)
	assert.EqualValues(t, 132, *trees.Tree[0].Size)

	tests := []struct {
		name string
		file string
		want FileSearchResult
	}{
		{"root file", "README.md", FileSearchResult{IsFound: true}},
		{"first match wins", "host.json", FileSearchResult{IsFound: true, FolderPath: "src"}},
		{"directories are not files", "package.json", FileSearchResult{}},
		{"missing", "function.json", FileSearchResult{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FindFile(trees, tt.file))
		})
	}
}

func TestWorkflowRequestWireNames(t *testing.T) {
	req := ActionWorkflowRequestContent{
		ResourceID: "/subscriptions/s/resourceGroups/g/providers/Microsoft.Web/sites/app",
		SecretName: "AZURE_FUNCTIONAPP_PUBLISH_PROFILE",
		Commit: Commit{
			RepoName:   "o/r",
			BranchName: "main",
			FilePath:   ".github/workflows/main_app.yml",
			Message:    "Add workflow",
			Committer:  Committer{Name: "Azure App Service", Email: "donotreply@microsoft.com"},
		},
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Contains(t, m, "resourceId")
	assert.NotContains(t, m, "containerUsernameSecretName")
	commit := m["commit"].(map[string]any)
	assert.Equal(t, "main", commit["branchName"])
	assert.NotContains(t, commit, "sha")

	var key SecretPublicKey
	require.NoError(t, json.Unmarshal([]byte(`{"key_id":"568250167242549743","key":"base64"}`), &key))
	assert.Equal(t, "568250167242549743", key.KeyID)
}

func TestFileSearchResultOmitsEmptyFolder(t *testing.T) {
	data, err := json.Marshal(FileSearchResult{IsFound: false})
	require.NoError(t, err)
	assert.JSONEq(t, `{"isFound":false}`, string(data))
}
