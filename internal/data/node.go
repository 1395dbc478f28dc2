package data

import (
	"os"
	"time"

	"github.com/snapbox/snapbox/internal/ids"
)

// NodeType is the closed set of filesystem entry kinds (spec §3).
type NodeType string

const (
	NodeTypeFile    NodeType = "file"
	NodeTypeDir     NodeType = "dir"
	NodeTypeSymlink NodeType = "symlink"
	NodeTypeDev     NodeType = "dev"
	NodeTypeCharDev NodeType = "chardev"
	NodeTypeFifo    NodeType = "fifo"
	NodeTypeSocket  NodeType = "socket"
)

// ExtendedAttribute is one (name, value) extended attribute pair, populated
// on Unix via github.com/pkg/xattr.
type ExtendedAttribute struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// Node is one filesystem entry: a file, directory, symlink, or special
// file (spec §3).
type Node struct {
	Name       string      `json:"name"`
	Type       NodeType    `json:"type"`
	Mode       os.FileMode `json:"mode,omitempty"`
	ModTime    time.Time   `json:"mtime,omitempty"`
	AccessTime time.Time   `json:"atime,omitempty"`
	ChangeTime time.Time   `json:"ctime,omitempty"`
	UID        uint32      `json:"uid"`
	GID        uint32      `json:"gid"`
	User       string      `json:"user,omitempty"`
	Group      string      `json:"group,omitempty"`
	Inode      uint64      `json:"inode,omitempty"`
	DeviceID   uint64      `json:"device_id,omitempty"`
	Size       uint64      `json:"size,omitempty"`
	LinkTarget string      `json:"linktarget,omitempty"`

	ExtendedAttributes []ExtendedAttribute `json:"extended_attributes,omitempty"`

	// Device holds stat.st_rdev for Type == NodeTypeDev/NodeTypeCharDev.
	Device uint64 `json:"device,omitempty"`

	// Content is the ordered list of data-blob IDs for Type == NodeTypeFile.
	Content ids.IDs `json:"content,omitempty"`
	// Subtree is the tree-blob ID for Type == NodeTypeDir.
	Subtree *ids.ID `json:"subtree,omitempty"`

	Error string `json:"error,omitempty"`

	// Path is the node's source path; never serialized, used only while
	// walking the source and archiving.
	Path string `json:"-"`
}

// Equals reports whether node and other have equal metadata and content,
// ignoring Path. It compares Name, Type, Size, ModTime, Content and
// Subtree only.
func (node Node) Equals(other Node) bool {
	if node.Name != other.Name || node.Type != other.Type || node.Size != other.Size {
		return false
	}
	if !node.ModTime.Equal(other.ModTime) {
		return false
	}
	if len(node.Content) != len(other.Content) {
		return false
	}
	for i := range node.Content {
		if node.Content[i] != other.Content[i] {
			return false
		}
	}
	if node.Subtree == nil && other.Subtree == nil {
		return true
	}
	if node.Subtree == nil || other.Subtree == nil {
		return false
	}
	return node.Subtree.Equal(*other.Subtree)
}

// Nodes is a slice of Node sortable by Name.
type Nodes []Node

func (n Nodes) Len() int           { return len(n) }
func (n Nodes) Less(i, j int) bool { return n[i].Name < n[j].Name }
func (n Nodes) Swap(i, j int)      { n[i], n[j] = n[j], n[i] }
