package entity

// Topic names a cross-component notification. Receivers re-read state from
// the store; notifications carry no payload.
type Topic string

const (
	TopicToggleSidebar   Topic = "toggle-sidebar-visibility"
	TopicServersUpdated  Topic = "mcp-servers-updated"
	TopicSettingsUpdated Topic = "mcp-settings-updated"
)
