package domain

// ChatRole distinguishes the two sides of a model conversation.
type ChatRole string

const (
	ChatRoleUser  ChatRole = "user"
	ChatRoleModel ChatRole = "model"
)

// ChatTurn is one entry of a conversation history sent to the model. A turn
// may carry an image next to its text (the seed turn does).
type ChatTurn struct {
	Role  ChatRole
	Text  string
	Image *ImagePayload
}
