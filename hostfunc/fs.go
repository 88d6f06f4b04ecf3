package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// MountMode defines the permission level for a mount point.
type MountMode int

const (
	// MountReadOnly allows only read operations.
	MountReadOnly MountMode = iota
	// MountReadWrite allows read and write operations to existing files/dirs.
	MountReadWrite
	// MountReadWriteCreate allows read, write, and create operations.
	MountReadWriteCreate
)

const (
	DefaultMaxFileSize   = 10 << 20 // 10MB
	DefaultMaxWriteSize  = 10 << 20
	DefaultMaxPathLength = 4096
)

// Mount represents a virtual path mapped to a host path with specific permissions.
type Mount struct {
	VirtualPath string    // Path as seen by sandboxed code (e.g., "/data")
	HostPath    string    // Actual path on host filesystem
	Mode        MountMode // Permission level
}

type FSOption func(*FS)

func WithMaxFileSize(n int64) FSOption { return func(f *FS) { f.maxFileSize = n } }
func WithMaxWriteSize(n int64) FSOption { return func(f *FS) { f.maxWriteSize = n } }
func WithMaxPathLength(n int) FSOption { return func(f *FS) { f.maxPathLength = n } }

// FS provides filesystem operations with explicit mount points.
type FS struct {
	mounts        []Mount
	maxFileSize   int64
	maxWriteSize  int64
	maxPathLength int
	mu            sync.RWMutex
}

// NewFS creates a new filesystem handler with the given mount points.
func NewFS(mounts []Mount, opts ...FSOption) *FS {
	normalized := make([]Mount, 0, len(mounts))
	for _, m := range mounts {
		vp := "/" + strings.Trim(m.VirtualPath, "/")
		hp, err := filepath.Abs(m.HostPath)
		if err != nil {
			continue
		}
		normalized = append(normalized, Mount{
			VirtualPath: vp,
			HostPath:    hp,
			Mode:        m.Mode,
		})
	}
	f := &FS{
		mounts:        normalized,
		maxFileSize:   DefaultMaxFileSize,
		maxWriteSize:  DefaultMaxWriteSize,
		maxPathLength: DefaultMaxPathLength,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// resolve maps a virtual path to a host path inside its mount. Symlinks are
// resolved within the mount root, so they cannot point outside it.
func (f *FS) resolve(virtualPath string, needWrite bool) (string, *Mount, error) {
	if f.maxPathLength > 0 && len(virtualPath) > f.maxPathLength {
		return "", nil, errors.New("path exceeds max length")
	}

	m := f.findMount(virtualPath)
	if m == nil {
		return "", nil, errors.New("permission denied: path not in any mount")
	}
	if needWrite && m.Mode == MountReadOnly {
		return "", nil, errors.New("permission denied: read-only mount")
	}

	vp := path.Clean("/" + strings.TrimPrefix(virtualPath, "/"))
	rel := strings.TrimPrefix(vp, m.VirtualPath)

	hostPath, err := securejoin.SecureJoin(m.HostPath, rel)
	if err != nil {
		return "", nil, errors.New("invalid path")
	}
	return hostPath, m, nil
}

func pathArg(args []any) (string, error) {
	p, err := String(args, 0)
	if err != nil || p == "" {
		return "", errors.New("path required")
	}
	return p, nil
}

// Read returns the contents of a file: fs_read(path).
func (f *FS) Read(ctx context.Context, args []any) (any, error) {
	p, err := pathArg(args)
	if err != nil {
		return nil, err
	}

	hostPath, _, err := f.resolve(p, false)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(hostPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("file not found: " + p)
		}
		return nil, errors.New("read error: " + err.Error())
	}
	if f.maxFileSize > 0 && info.Size() > f.maxFileSize {
		return nil, fmt.Errorf("file exceeds max size (%d)", f.maxFileSize)
	}

	data, err := os.ReadFile(hostPath)
	if err != nil {
		return nil, errors.New("read error: " + err.Error())
	}

	return string(data), nil
}

// Write writes content to a file: fs_write(path, content).
func (f *FS) Write(ctx context.Context, args []any) (any, error) {
	p, err := pathArg(args)
	if err != nil {
		return nil, err
	}
	content, err := String(args, 1)
	if err != nil {
		return nil, errors.New("content required")
	}
	if f.maxWriteSize > 0 && int64(len(content)) > f.maxWriteSize {
		return nil, fmt.Errorf("content exceeds max size (%d)", f.maxWriteSize)
	}

	hostPath, m, err := f.resolve(p, true)
	if err != nil {
		return nil, err
	}

	// MountReadWrite can only touch existing files
	if _, statErr := os.Stat(hostPath); os.IsNotExist(statErr) && m.Mode != MountReadWriteCreate {
		return nil, errors.New("permission denied: cannot create new files")
	}

	if err := os.WriteFile(hostPath, []byte(content), 0644); err != nil {
		return nil, errors.New("write error: " + err.Error())
	}

	return "ok", nil
}

// List returns the contents of a directory: fs_list(path).
func (f *FS) List(ctx context.Context, args []any) (any, error) {
	p, err := pathArg(args)
	if err != nil {
		return nil, err
	}

	hostPath, _, err := f.resolve(p, false)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(hostPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("directory not found: " + p)
		}
		return nil, errors.New("list error: " + err.Error())
	}

	result := make([]any, 0, len(entries))
	for _, entry := range entries {
		info, _ := entry.Info()
		item := map[string]any{
			"name":   entry.Name(),
			"is_dir": entry.IsDir(),
		}
		if info != nil {
			item["size"] = info.Size()
		}
		result = append(result, item)
	}

	return result, nil
}

// Exists checks if a path exists: fs_exists(path).
func (f *FS) Exists(ctx context.Context, args []any) (any, error) {
	p, err := pathArg(args)
	if err != nil {
		return nil, err
	}

	hostPath, _, err := f.resolve(p, false)
	if err != nil {
		// Permission denied means it doesn't exist from sandbox perspective
		return false, nil
	}

	_, err = os.Stat(hostPath)
	return err == nil, nil
}

// Mkdir creates a directory: fs_mkdir(path).
func (f *FS) Mkdir(ctx context.Context, args []any) (any, error) {
	p, err := pathArg(args)
	if err != nil {
		return nil, err
	}

	hostPath, m, err := f.resolve(p, true)
	if err != nil {
		return nil, err
	}
	if m.Mode != MountReadWriteCreate {
		return nil, errors.New("permission denied: cannot create directories")
	}

	if err := os.MkdirAll(hostPath, 0755); err != nil {
		return nil, errors.New("mkdir error: " + err.Error())
	}

	return "ok", nil
}

// Remove deletes a file or empty directory: fs_remove(path).
func (f *FS) Remove(ctx context.Context, args []any) (any, error) {
	p, err := pathArg(args)
	if err != nil {
		return nil, err
	}

	hostPath, _, err := f.resolve(p, true)
	if err != nil {
		return nil, err
	}

	if err := os.Remove(hostPath); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("file not found: " + p)
		}
		if pathErr, ok := err.(*fs.PathError); ok && strings.Contains(pathErr.Error(), "directory not empty") {
			return nil, errors.New("directory not empty: " + p)
		}
		return nil, errors.New("remove error: " + err.Error())
	}

	return "ok", nil
}

// Stat returns information about a file or directory: fs_stat(path).
func (f *FS) Stat(ctx context.Context, args []any) (any, error) {
	p, err := pathArg(args)
	if err != nil {
		return nil, err
	}

	hostPath, _, err := f.resolve(p, false)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(hostPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("file not found: " + p)
		}
		return nil, errors.New("stat error: " + err.Error())
	}

	return map[string]any{
		"name":     info.Name(),
		"size":     info.Size(),
		"is_dir":   info.IsDir(),
		"mod_time": info.ModTime().Unix(),
	}, nil
}

// Install registers the fs_* functions on r.
func (f *FS) Install(r *Registry) {
	r.Register("fs_read", f.Read)
	r.Register("fs_write", f.Write)
	r.Register("fs_list", f.List)
	r.Register("fs_exists", f.Exists)
	r.Register("fs_mkdir", f.Mkdir)
	r.Register("fs_remove", f.Remove)
	r.Register("fs_stat", f.Stat)
}

// findMount finds the mount for a given virtual path.
func (f *FS) findMount(virtualPath string) *Mount {
	f.mu.RLock()
	defer f.mu.RUnlock()

	vp := path.Clean("/" + strings.TrimPrefix(virtualPath, "/"))

	for i := range f.mounts {
		m := &f.mounts[i]
		if m.VirtualPath == "/" || vp == m.VirtualPath || strings.HasPrefix(vp, m.VirtualPath+"/") {
			return m
		}
	}
	return nil
}
