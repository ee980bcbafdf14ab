package chat

// DefaultTitle is assigned to chats created without an explicit title.
const DefaultTitle = "New Chat"

// Summary is the lightweight identity+title record shown in chat lists.
type Summary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Partition names the collection a chat currently belongs to.
type Partition int

const (
	Active Partition = iota
	Archived
)

func (p Partition) String() string {
	switch p {
	case Active:
		return "active"
	case Archived:
		return "archived"
	default:
		return "unknown"
	}
}

// Other returns the opposite partition.
func (p Partition) Other() Partition {
	if p == Active {
		return Archived
	}
	return Active
}
