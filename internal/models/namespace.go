package models

// Namespace is the top level tenant scope; it divides teams or logically
// different sections of pipelines from one another.
type Namespace struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
	Created     uint64 `json:"created" db:"created"`
	Modified    uint64 `json:"modified" db:"modified"`
}

// DefaultNamespaceID is the id of the default namespace, which the service
// creates at startup when it does not exist yet.
const DefaultNamespaceID = "default"

func NewNamespace(id, name, description string) *Namespace {
	ts := now()
	return &Namespace{
		ID:          id,
		Name:        name,
		Description: description,
		Created:     ts,
		Modified:    ts,
	}
}
