package conversation

// Label identifies which speaker a chunk, line or session belongs to.
type Label string

const (
	Agent    Label = "Agent"
	Customer Label = "Customer"
)

func (l Label) String() string { return string(l) }

