// Copyright 2025 the AMQ-OS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vfs

import (
	"fmt"
	"strings"

	"github.com/mqestical/amqos/internal/kerr"
	"github.com/mqestical/amqos/internal/logger"
)

const (
	MaxOpenFiles = 256

	// Descriptors 0-2 are reserved for the console; user descriptors
	// start here.
	firstUserFd = 3
)

type fileDescriptor struct {
	used     bool
	node     *Node
	position uint32
	flags    uint32
}

// VFS holds the mounted filesystem, the descriptor table and the
// current directory. It is owned by the cooperative region; no locking.
type VFS struct {
	registry []Filesystem
	root     *Node
	cwd      *Node
	cwdPath  string
	fds      [MaxOpenFiles]fileDescriptor
}

func New() *VFS {
	return &VFS{cwdPath: "/"}
}

// RegisterFilesystem adds a filesystem type to the registry.
func (v *VFS) RegisterFilesystem(fs Filesystem) error {
	if fs == nil || fs.Name() == "" {
		return fmt.Errorf("vfs: bad filesystem registration: %w", kerr.ErrInvalidArgument)
	}
	v.registry = append(v.registry, fs)
	logger.Infof("vfs: registered filesystem %q", fs.Name())
	return nil
}

// Mount mounts the named filesystem type on the given device. Only the
// root mountpoint "/" is supported.
func (v *VFS) Mount(fsType, device, mountpoint string) error {
	var fs Filesystem
	for _, f := range v.registry {
		if f.Name() == fsType {
			fs = f
			break
		}
	}
	if fs == nil {
		return fmt.Errorf("vfs: filesystem type %q: %w", fsType, kerr.ErrNotFound)
	}

	if err := fs.Mount(device); err != nil {
		return fmt.Errorf("vfs: mount %q on %q: %w", fsType, device, err)
	}

	if mountpoint == "/" {
		root, err := fs.Root()
		if err != nil {
			return fmt.Errorf("vfs: root of %q: %w", fsType, err)
		}
		root.FS = fs
		v.root = root
		v.cwd = root
		v.cwdPath = "/"
	}

	logger.Infof("vfs: mounted %s at %s", fsType, mountpoint)
	return nil
}

// Unmount tears the root mount down and drops every open descriptor.
func (v *VFS) Unmount() error {
	if v.root == nil {
		return fmt.Errorf("vfs: nothing mounted: %w", kerr.ErrInvalidArgument)
	}
	fs := v.root.FS
	if err := fs.Unmount(); err != nil {
		return err
	}
	v.root = nil
	v.cwd = nil
	v.cwdPath = "/"
	v.fds = [MaxOpenFiles]fileDescriptor{}
	return nil
}

// Root returns the root node.
func (v *VFS) Root() *Node { return v.root }

// ResolvePath walks an absolute path from the root, one component at a
// time, through FindDir.
func (v *VFS) ResolvePath(path string) (*Node, error) {
	if v.root == nil {
		return nil, fmt.Errorf("vfs: no root mounted: %w", kerr.ErrInvalidArgument)
	}
	if path == "" || path[0] != '/' {
		return nil, fmt.Errorf("vfs: path must be absolute: %q: %w", path, kerr.ErrInvalidArgument)
	}
	if path == "/" {
		return v.root, nil
	}

	current := v.root
	for _, token := range strings.Split(path, "/") {
		if token == "" {
			continue
		}
		if current.Type != Directory {
			return nil, fmt.Errorf("vfs: %q is not a directory: %w", current.Name, kerr.ErrInvalidArgument)
		}
		next, err := v.FindDir(current, token)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, fmt.Errorf("vfs: component %q: %w", token, kerr.ErrNotFound)
		}
		current = next
	}
	return current, nil
}

func (v *VFS) allocFd() int {
	for fd := firstUserFd; fd < MaxOpenFiles; fd++ {
		if !v.fds[fd].used {
			v.fds[fd].used = true
			return fd
		}
	}
	return -1
}

// Open resolves a path and installs it in the descriptor table.
func (v *VFS) Open(path string, flags uint32) (int, error) {
	node, err := v.ResolvePath(path)
	if err != nil {
		return -1, err
	}

	fd := v.allocFd()
	if fd < 0 {
		return -1, fmt.Errorf("vfs: descriptor table full: %w", kerr.ErrOutOfMemory)
	}

	v.fds[fd].node = node
	v.fds[fd].position = 0
	v.fds[fd].flags = flags

	if node.Ops != nil {
		if err := node.Ops.Open(node, flags); err != nil {
			v.fds[fd] = fileDescriptor{}
			return -1, err
		}
	}
	return fd, nil
}

func (v *VFS) descriptor(fd int) (*fileDescriptor, error) {
	if fd < 0 || fd >= MaxOpenFiles || !v.fds[fd].used {
		return nil, fmt.Errorf("vfs: bad descriptor %d: %w", fd, kerr.ErrInvalidArgument)
	}
	return &v.fds[fd], nil
}

// Close releases a descriptor after notifying the node.
func (v *VFS) Close(fd int) error {
	d, err := v.descriptor(fd)
	if err != nil {
		return err
	}
	if d.node != nil && d.node.Ops != nil {
		if err := d.node.Ops.Close(d.node); err != nil {
			return err
		}
	}
	*d = fileDescriptor{}
	return nil
}

// Read transfers up to len(p) bytes from the current position and
// advances it. Reading at or past EOF returns 0.
func (v *VFS) Read(fd int, p []byte) (int, error) {
	d, err := v.descriptor(fd)
	if err != nil {
		return -1, err
	}
	if d.node == nil || d.node.Ops == nil {
		return -1, fmt.Errorf("vfs: descriptor %d has no node ops: %w", fd, kerr.ErrInvalidArgument)
	}

	n, err := d.node.Ops.ReadAt(d.node, p, d.position)
	if err != nil {
		return -1, err
	}
	d.position += uint32(n)
	return n, nil
}

// Write transfers len(p) bytes at the current position and advances it.
// The descriptor must have been opened for writing.
func (v *VFS) Write(fd int, p []byte) (int, error) {
	d, err := v.descriptor(fd)
	if err != nil {
		return -1, err
	}
	if d.flags&(FlagWrite|FlagAppend) == 0 {
		return -1, fmt.Errorf("vfs: descriptor %d not open for writing: %w", fd, kerr.ErrInvalidArgument)
	}
	if d.node == nil || d.node.Ops == nil {
		return -1, fmt.Errorf("vfs: descriptor %d has no node ops: %w", fd, kerr.ErrInvalidArgument)
	}

	n, err := d.node.Ops.WriteAt(d.node, p, d.position)
	if err != nil {
		return -1, err
	}
	d.position += uint32(n)
	return n, nil
}

// Seek computes and stores a new position. Seeking beyond EOF is
// permitted; subsequent reads return 0.
func (v *VFS) Seek(fd int, offset int64, whence int) (uint32, error) {
	d, err := v.descriptor(fd)
	if err != nil {
		return 0, err
	}

	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = int64(d.position)
	case SeekEnd:
		base = int64(d.node.Size)
	default:
		return 0, fmt.Errorf("vfs: bad whence %d: %w", whence, kerr.ErrInvalidArgument)
	}

	pos := base + offset
	if pos < 0 {
		return 0, fmt.Errorf("vfs: negative seek: %w", kerr.ErrInvalidArgument)
	}
	d.position = uint32(pos)
	return d.position, nil
}

// ReadDir returns the index-th child of a directory node, or nil at the
// end. The caller owns the returned node.
func (v *VFS) ReadDir(node *Node, index int) (*Node, error) {
	if node == nil || node.Type != Directory {
		return nil, fmt.Errorf("vfs: readdir of non-directory: %w", kerr.ErrInvalidArgument)
	}
	if node.Ops == nil {
		return nil, fmt.Errorf("vfs: node has no ops: %w", kerr.ErrInvalidArgument)
	}
	return node.Ops.ReadDir(node, index)
}

// FindDir looks a child up by name under a directory node.
func (v *VFS) FindDir(node *Node, name string) (*Node, error) {
	if node == nil || node.Type != Directory {
		return nil, fmt.Errorf("vfs: finddir of non-directory: %w", kerr.ErrInvalidArgument)
	}
	if node.Ops == nil {
		return nil, fmt.Errorf("vfs: node has no ops: %w", kerr.ErrInvalidArgument)
	}
	return node.Ops.FindDir(node, name)
}

// splitParent separates an absolute path into its parent directory and
// basename.
func splitParent(path string) (parent, base string, err error) {
	if path == "" || path[0] != '/' {
		return "", "", fmt.Errorf("vfs: path must be absolute: %q: %w", path, kerr.ErrInvalidArgument)
	}
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 || path == "" {
		return "", "", fmt.Errorf("vfs: cannot split %q: %w", path, kerr.ErrInvalidArgument)
	}
	if idx == 0 {
		return "/", path[1:], nil
	}
	return path[:idx], path[idx+1:], nil
}

func (v *VFS) createNode(path string, typ NodeType, permissions uint32) error {
	parentPath, name, err := splitParent(path)
	if err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("vfs: empty basename in %q: %w", path, kerr.ErrInvalidArgument)
	}

	parent, err := v.ResolvePath(parentPath)
	if err != nil {
		return err
	}
	if parent.Type != Directory {
		return fmt.Errorf("vfs: parent %q is not a directory: %w", parentPath, kerr.ErrInvalidArgument)
	}
	if parent.Ops == nil {
		return fmt.Errorf("vfs: parent has no create operation: %w", kerr.ErrInvalidArgument)
	}
	return parent.Ops.Create(parent, name, typ, permissions)
}

// Create creates a regular file at the given absolute path.
func (v *VFS) Create(path string, permissions uint32) error {
	return v.createNode(path, Regular, permissions)
}

// Mkdir creates a directory at the given absolute path.
func (v *VFS) Mkdir(path string, permissions uint32) error {
	return v.createNode(path, Directory, permissions)
}

// Unlink removes the directory entry at the given absolute path.
func (v *VFS) Unlink(path string) error {
	parentPath, name, err := splitParent(path)
	if err != nil {
		return err
	}
	parent, err := v.ResolvePath(parentPath)
	if err != nil {
		return err
	}
	if parent.Type != Directory || parent.Ops == nil {
		return fmt.Errorf("vfs: parent of %q: %w", path, kerr.ErrInvalidArgument)
	}
	return parent.Ops.Unlink(parent, name)
}

// Statfs reports capacity for the filesystem owning the path.
func (v *VFS) Statfs(path string) (Stats, error) {
	node, err := v.ResolvePath(path)
	if err != nil {
		return Stats{}, err
	}
	if node.FS == nil {
		if v.root != nil && v.root.FS != nil {
			return v.root.FS.Stats()
		}
		return Stats{}, fmt.Errorf("vfs: node has no filesystem: %w", kerr.ErrInvalidArgument)
	}
	return node.FS.Stats()
}

// Cwd returns the current directory node.
func (v *VFS) Cwd() *Node {
	if v.cwd != nil {
		return v.cwd
	}
	return v.root
}

// CwdPath returns the current directory path string.
func (v *VFS) CwdPath() string { return v.cwdPath }

// Chdir changes the current directory. Relative paths are joined onto
// the current path; a trailing "/" is dropped except for the root.
func (v *VFS) Chdir(path string) error {
	if path == "" {
		return fmt.Errorf("vfs: empty chdir path: %w", kerr.ErrInvalidArgument)
	}

	full := path
	if path[0] != '/' {
		if strings.HasSuffix(v.cwdPath, "/") {
			full = v.cwdPath + path
		} else {
			full = v.cwdPath + "/" + path
		}
	}

	target, err := v.ResolvePath(full)
	if err != nil {
		return err
	}
	if target.Type != Directory {
		return fmt.Errorf("vfs: not a directory: %q: %w", path, kerr.ErrInvalidArgument)
	}

	if len(full) > 1 {
		full = strings.TrimSuffix(full, "/")
	}
	v.cwd = target
	v.cwdPath = full
	return nil
}

// DirEntry is one row of a directory listing.
type DirEntry struct {
	Name  string
	Type  NodeType
	Size  uint32
	Inode uint32
}

// ListDirectory collects the entries of the directory at path.
func (v *VFS) ListDirectory(path string) ([]DirEntry, error) {
	dir, err := v.ResolvePath(path)
	if err != nil {
		return nil, err
	}

	var entries []DirEntry
	for i := 0; ; i++ {
		child, err := v.ReadDir(dir, i)
		if err != nil {
			return nil, err
		}
		if child == nil {
			break
		}
		entries = append(entries, DirEntry{
			Name:  child.Name,
			Type:  child.Type,
			Size:  child.Size,
			Inode: child.Inode,
		})
	}
	return entries, nil
}
