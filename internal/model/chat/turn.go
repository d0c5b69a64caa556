package chat

// Role tags who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ContextWindow is the number of most recent turns sent to the reasoning service.
const ContextWindow = 6

// Turn is one role-tagged utterance. Turns are never modified after being appended.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Tail returns the last n turns of history, oldest first.
func Tail(history []Turn, n int) []Turn {
	if n <= 0 || len(history) == 0 {
		return nil
	}

	start := 0
	if len(history) > n {
		start = len(history) - n
	}

	out := make([]Turn, len(history)-start)
	copy(out, history[start:])
	return out
}
