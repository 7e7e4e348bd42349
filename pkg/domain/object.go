package domain

// ObjectType identifies a resource kind across the deployment. Values are
// compared by value and never mutated.
type ObjectType struct {
	Service string `json:"service"`
	Type    string `json:"type"`
}

func (o ObjectType) String() string {
	return o.Service + "/" + o.Type
}

// ActionType names an operation submitted for authorization.
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionRead   ActionType = "read"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
)

func (a ActionType) String() string { return string(a) }
