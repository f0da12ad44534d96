// Package namespace maintains a directory of named namespaces on top
// of a kv.Store. Each namespace owns one object index. The directory
// itself is a single index holding one record per namespace and the
// counter from which namespace ids are allocated.
package namespace
