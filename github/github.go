// Package github 部署中心使用的 GitHub 数据结构。
package github

import (
	"path"
)

// Committer 提交者
type Committer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Commit 向仓库写入单个文件的提交，更新已有文件时 Sha 必填
type Commit struct {
	RepoName             string    `json:"repoName"`
	BranchName           string    `json:"branchName"`
	FilePath             string    `json:"filePath"`
	Message              string    `json:"message"`
	Committer            Committer `json:"committer"`
	ContentBase64Encoded string    `json:"contentBase64Encoded,omitempty"`
	Sha                  string    `json:"sha,omitempty"`
}

// ActionWorkflowRequestContent 创建 GitHub Actions 工作流的请求
type ActionWorkflowRequestContent struct {
	ResourceID                   string `json:"resourceId"`
	SecretName                   string `json:"secretName"`
	Commit                       Commit `json:"commit"`
	ContainerUsernameSecretName  string `json:"containerUsernameSecretName,omitempty"`
	ContainerUsernameSecretValue string `json:"containerUsernameSecretValue,omitempty"`
	ContainerPasswordSecretName  string `json:"containerPasswordSecretName,omitempty"`
	ContainerPasswordSecretValue string `json:"containerPasswordSecretValue,omitempty"`
}

// SecretPublicKey 仓库用于加密 secret 的公钥
type SecretPublicKey struct {
	KeyID string `json:"key_id"`
	Key   string `json:"key"`
}

// FileTreeType 树节点类型
type FileTreeType string

const (
	FileTreeTypeTree FileTreeType = "tree"
	FileTreeTypeBlob FileTreeType = "blob"
)

// FileGetTrees git/trees 接口的响应
type FileGetTrees struct {
	Sha       string     `json:"sha"`
	URL       string     `json:"url"`
	Tree      []FileTree `json:"tree"`
	Truncated bool       `json:"truncated"`
}

// FileTree 树中的一个节点
type FileTree struct {
	Path string       `json:"path"`
	Mode string       `json:"mode"`
	Type FileTreeType `json:"type"`
	Sha  string       `json:"sha"`
	URL  string       `json:"url"`
	Size *int64       `json:"size,omitempty"`
}

// FileSearchResult 在树中查找文件的结果
type FileSearchResult struct {
	IsFound    bool   `json:"isFound"`
	FolderPath string `json:"folderPath,omitempty"`
}

// FindFile 在递归树列表中查找名为 name 的文件（blob），返回第一个匹配所在的目录。
// 位于仓库根目录时 FolderPath 为空。
func FindFile(trees FileGetTrees, name string) FileSearchResult {
	for _, node := range trees.Tree {
		if node.Type != FileTreeTypeBlob || path.Base(node.Path) != name {
			continue
		}
		dir := path.Dir(node.Path)
		if dir == "." {
			dir = ""
		}
		return FileSearchResult{IsFound: true, FolderPath: dir}
	}
	return FileSearchResult{}
}
