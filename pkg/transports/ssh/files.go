package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
)

// sftpSession opens an SFTP client on the current connection. The caller
// closes it.
func (c *Client) sftpSession(ctx context.Context) (*sftp.Client, error) {
	c.mu.Lock()
	conn, err := c.connLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		c.dropConn()
		return nil, &TransportError{Op: "sftp", Err: err, IsTemporary: true}
	}
	return client, nil
}

// Upload copies a local file to the machine.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	client, err := c.sftpSession(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	src, err := os.Open(localPath)
	if err != nil {
		return &TransportError{Op: "upload", Err: err}
	}
	defer src.Close()

	dst, err := client.Create(remotePath)
	if err != nil {
		return &TransportError{Op: "upload", Err: err, IsTemporary: true}
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return &TransportError{Op: "upload", Err: err, IsTemporary: true}
	}
	if err := client.Chmod(remotePath, mode); err != nil {
		return &TransportError{Op: "upload", Err: err}
	}
	return nil
}

// Download copies a remote file, or a directory tree, to a local path.
func (c *Client) Download(ctx context.Context, remotePath, localPath string) error {
	client, err := c.sftpSession(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	info, err := client.Stat(remotePath)
	if err != nil {
		return &TransportError{Op: "download", Err: err}
	}
	if info.IsDir() {
		return c.downloadDir(client, remotePath, localPath)
	}
	return c.downloadFile(client, remotePath, localPath)
}

func (c *Client) downloadFile(client *sftp.Client, remotePath, localPath string) error {
	src, err := client.Open(remotePath)
	if err != nil {
		return &TransportError{Op: "download", Err: err}
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return &TransportError{Op: "download", Err: err}
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return &TransportError{Op: "download", Err: err}
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return &TransportError{Op: "download", Err: err, IsTemporary: true}
	}
	return nil
}

func (c *Client) downloadDir(client *sftp.Client, remoteDir, localDir string) error {
	walker := client.Walk(remoteDir)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return &TransportError{Op: "download", Err: err}
		}
		rel, err := filepath.Rel(remoteDir, walker.Path())
		if err != nil {
			return &TransportError{Op: "download", Err: err}
		}
		local := filepath.Join(localDir, rel)
		if walker.Stat().IsDir() {
			if err := os.MkdirAll(local, 0o755); err != nil {
				return &TransportError{Op: "download", Err: err}
			}
			continue
		}
		if err := c.downloadFile(client, walker.Path(), local); err != nil {
			return err
		}
	}
	return nil
}

// RunScript uploads a local script to the machine, executes it, and
// removes it again. The script's exit status becomes the call's error.
func (c *Client) RunScript(ctx context.Context, localPath string) error {
	remote := path.Join("/tmp", fmt.Sprintf("vlab-%s-%s", uuid.New().String()[:8], filepath.Base(localPath)))

	if err := c.Upload(ctx, localPath, remote, 0o755); err != nil {
		return fmt.Errorf("uploading script %s: %w", localPath, err)
	}
	defer func() {
		_, _, _ = c.Run(ctx, "rm -f "+remote)
	}()

	if _, stderr, err := c.Run(ctx, remote); err != nil {
		return fmt.Errorf("script %s failed: %w (%s)", filepath.Base(localPath), err, stderr)
	}
	return nil
}
