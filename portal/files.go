package portal

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ceyewan/fnportal/cache"
	"github.com/ceyewan/fnportal/pipeline"
	"github.com/ceyewan/fnportal/transport"
	"github.com/ceyewan/fnportal/xerrors"
)

// ListFiles 列出 VFS 目录
func (c *Client) ListFiles(ctx context.Context, href string) ([]VfsObject, error) {
	if href == "" {
		return nil, xerrors.Invalidf("portal: directory href is empty")
	}
	objs, _, err := pipeline.Fetch[[]VfsObject](ctx, c.p, pipeline.Operation{
		ID:        cache.ID(OpGetVfsObjects, href),
		Request:   c.request(SurfaceSCM, http.MethodGet, href, nil, ""),
		Policy:    c.presets.SingleAttempt,
		Cacheable: true,
		ErrorID:   ErrIDUnableToRetrieveDirectoryContent,
		Message:   "Unable to retrieve the directory content.",
	})
	return objs, err
}

// GetFileContent 读取文件内容，按 href 缓存
func (c *Client) GetFileContent(ctx context.Context, href string) (string, error) {
	if href == "" {
		return "", xerrors.Invalidf("portal: file href is empty")
	}
	name := FileName(href)
	res, err := c.p.Execute(ctx, pipeline.Operation{
		ID:        fileContentID(href),
		Request:   c.request(SurfaceSCM, http.MethodGet, href, nil, ""),
		Policy:    c.presets.SingleAttempt,
		Cacheable: true,
		ErrorID:   ErrIDUnableToRetrieveFileContent + name,
		Message:   fmt.Sprintf("Unable to get the content of %s.", name),
	})
	if err != nil {
		return "", err
	}
	return string(res.Body), nil
}

// SaveFile 覆盖写入文件，并使该文件的内容缓存失效
func (c *Client) SaveFile(ctx context.Context, href, content string) error {
	if href == "" {
		return xerrors.Invalidf("portal: file href is empty")
	}
	name := FileName(href)
	req := c.request(SurfaceSCM, http.MethodPut, href, []byte(content), ContentTypeText)
	_, err := c.p.Execute(ctx, pipeline.Operation{
		ID:          cache.ID(OpSaveFile, href),
		Request:     ifMatchAny(req),
		Policy:      c.presets.SingleAttempt,
		ErrorID:     ErrIDUnableToSaveFileContent + name,
		Message:     fmt.Sprintf("Unable to save %s.", name),
		Invalidates: []cache.Identity{fileContentID(href)},
	})
	return err
}

// DeleteFile 删除文件，并使该文件的内容缓存失效
func (c *Client) DeleteFile(ctx context.Context, href string) error {
	if href == "" {
		return xerrors.Invalidf("portal: file href is empty")
	}
	name := FileName(href)
	req := c.request(SurfaceSCM, http.MethodDelete, href, nil, ContentTypeText)
	_, err := c.p.Execute(ctx, pipeline.Operation{
		ID:          cache.ID(OpDeleteFile, href),
		Request:     ifMatchAny(req),
		Policy:      c.presets.SingleAttempt,
		ErrorID:     ErrIDUnableToDeleteFile + name,
		Message:     fmt.Sprintf("Unable to delete %s.", name),
		Invalidates: []cache.Identity{fileContentID(href)},
	})
	return err
}

func fileContentID(href string) cache.Identity {
	return cache.ID(OpGetFileContent, href)
}

// ifMatchAny Kudu 的 VFS 写入要求 If-Match
func ifMatchAny(req *transport.Request) *transport.Request {
	req.Header.Set("If-Match", "*")
	return req
}
