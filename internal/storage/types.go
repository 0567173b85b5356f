// Package storage defines the descriptor types and the executor boundary
// through which the control plane reaches concrete storage backends. The
// control plane never opens sockets or files itself; all I/O belongs to
// Executor implementations supplied by the embedding service.
package storage

import "fmt"

// Kind identifies the category of storage backend a target describes.
type Kind string

// Supported backend kinds.
const (
	KindKeyValue   Kind = "kv"
	KindRelational Kind = "relational"
	KindObject     Kind = "object"
)

// Target describes a storage destination. It is a plain descriptor, never a
// live connection; ownership of I/O resources stays with the Executor.
type Target struct {
	// Kind selects the backend category.
	Kind Kind `yaml:"kind" json:"kind"`

	// Name identifies the backend instance, e.g. "legacy" or "new".
	Name string `yaml:"name" json:"name"`

	// Namespace applies to key-value backends.
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`

	// Database and Table apply to relational backends.
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
	Table    string `yaml:"table,omitempty" json:"table,omitempty"`

	// Bucket and Prefix apply to object-store backends.
	Bucket string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// ID returns a stable identifier for the target, used as the key in
// per-target result maps and as the breaker resource id.
func (t Target) ID() string {
	switch t.Kind {
	case KindKeyValue:
		return fmt.Sprintf("kv:%s:%s", t.Name, t.Namespace)
	case KindRelational:
		return fmt.Sprintf("relational:%s:%s.%s", t.Name, t.Database, t.Table)
	case KindObject:
		return fmt.Sprintf("object:%s:%s", t.Name, t.Bucket)
	default:
		return fmt.Sprintf("%s:%s", t.Kind, t.Name)
	}
}

// Validate rejects descriptors that cannot be routed.
func (t Target) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("storage target name is required")
	}
	switch t.Kind {
	case KindKeyValue:
		if t.Namespace == "" {
			return fmt.Errorf("kv target %q requires a namespace", t.Name)
		}
	case KindRelational:
		if t.Database == "" || t.Table == "" {
			return fmt.Errorf("relational target %q requires database and table", t.Name)
		}
	case KindObject:
		if t.Bucket == "" {
			return fmt.Errorf("object target %q requires a bucket", t.Name)
		}
	default:
		return fmt.Errorf("unknown storage kind %q", t.Kind)
	}
	return nil
}
