package output

import "mcp-bridge/internal/domain/entity"

type EventBus interface {
	Publish(topic entity.Topic)
	Subscribe(topic entity.Topic, handler func()) (unsubscribe func())
}
