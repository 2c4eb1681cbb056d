// Package trie implements a byte-indexed prefix tree over a set of string keys.
//
// Every node records the full keys whose path passes through it, so a prefix
// query costs one walk down the prefix plus the size of the answer, independent
// of how many keys the tree holds in total.
//
// Nodes live in a single slice and reference their children by index. Removing
// a key empties key sets but never frees nodes; Prune rebuilds the arena from
// the live key set when that garbage matters.
//
// A Trie is not safe for concurrent use; callers serialize access.
package trie

import "sort"

const root = 0

type node struct {
	children map[byte]int32
	keys     map[string]struct{}
}

// Trie is a prefix tree of string keys.
type Trie struct {
	nodes []node
}

// New returns an empty trie.
func New() *Trie {
	return &Trie{nodes: make([]node, 1)}
}

// FromKeys builds a trie holding keys.
func FromKeys(keys []string) *Trie {
	t := New()
	for _, k := range keys {
		t.Insert(k)
	}
	return t
}

func (t *Trie) newNode() int32 {
	t.nodes = append(t.nodes, node{})
	return int32(len(t.nodes) - 1)
}

func (t *Trie) addKey(n int32, key string) {
	if t.nodes[n].keys == nil {
		t.nodes[n].keys = make(map[string]struct{})
	}
	t.nodes[n].keys[key] = struct{}{}
}

// Insert adds key, creating one node per byte that is not yet on the path.
// Inserting a key twice is harmless.
func (t *Trie) Insert(key string) {
	var n int32 = root
	t.addKey(n, key)
	for i := 0; i < len(key); i++ {
		c := key[i]
		child, ok := t.nodes[n].children[c]
		if !ok {
			child = t.newNode()
			if t.nodes[n].children == nil {
				t.nodes[n].children = make(map[byte]int32)
			}
			t.nodes[n].children[c] = child
		}
		n = child
		t.addKey(n, key)
	}
}

// walk returns the node reached by following s from the root, or -1.
func (t *Trie) walk(s string) int32 {
	var n int32 = root
	for i := 0; i < len(s); i++ {
		child, ok := t.nodes[n].children[s[i]]
		if !ok {
			return -1
		}
		n = child
	}
	return n
}

// Remove deletes key from every node on its path and reports whether the key
// was present. Nodes are kept even when their key set becomes empty.
func (t *Trie) Remove(key string) bool {
	end := t.walk(key)
	if end < 0 {
		return false
	}
	if _, ok := t.nodes[end].keys[key]; !ok {
		return false
	}
	var n int32 = root
	delete(t.nodes[n].keys, key)
	for i := 0; i < len(key); i++ {
		n = t.nodes[n].children[key[i]]
		delete(t.nodes[n].keys, key)
	}
	return true
}

// Has reports whether key itself is in the trie.
func (t *Trie) Has(key string) bool {
	end := t.walk(key)
	if end < 0 {
		return false
	}
	_, ok := t.nodes[end].keys[key]
	return ok
}

// KeysWithPrefix returns the keys starting with prefix, sorted.
// The empty prefix matches every key.
func (t *Trie) KeysWithPrefix(prefix string) []string {
	end := t.walk(prefix)
	if end < 0 {
		return []string{}
	}
	set := t.nodes[end].keys
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CountWithPrefix returns how many keys start with prefix.
func (t *Trie) CountWithPrefix(prefix string) int {
	end := t.walk(prefix)
	if end < 0 {
		return 0
	}
	return len(t.nodes[end].keys)
}

// Len returns the number of keys.
func (t *Trie) Len() int {
	return len(t.nodes[root].keys)
}

// NodeCount returns the number of allocated nodes, including the root and
// nodes whose key set has been emptied by Remove.
func (t *Trie) NodeCount() int {
	return len(t.nodes)
}

// EmptyNodes returns the number of non-root nodes no key passes through.
func (t *Trie) EmptyNodes() int {
	n := 0
	for i := 1; i < len(t.nodes); i++ {
		if len(t.nodes[i].keys) == 0 {
			n++
		}
	}
	return n
}

// Prune rebuilds the arena from the live keys, dropping every emptied node.
// It returns the number of nodes released.
func (t *Trie) Prune() int {
	before := len(t.nodes)
	keys := make([]string, 0, t.Len())
	for k := range t.nodes[root].keys {
		keys = append(keys, k)
	}
	t.nodes = FromKeys(keys).nodes
	return before - len(t.nodes)
}
