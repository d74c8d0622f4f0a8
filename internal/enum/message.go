package enum

type MessageDirection string

const (
	MessageInbound  MessageDirection = "inbound"
	MessageOutbound MessageDirection = "outbound"
)

func (t MessageDirection) String() string {
	return string(t)
}
