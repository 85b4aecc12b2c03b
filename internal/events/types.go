package events

// Event enumerates high-level topics inside the engine.
type Event string

const (
	// EventNotification carries user-facing notices relayed to every
	// connected websocket client.
	EventNotification Event = "notification"
	// EventBotStarted / EventBotStopped mark supervisor lifecycle changes.
	EventBotStarted Event = "bot.started"
	EventBotStopped Event = "bot.stopped"
)

// Notification is the payload for EventNotification. The fan-out layer
// wraps it into a {type: "notification", ...} frame.
type Notification struct {
	NotificationType string `json:"notification_type"`
	BotID            int64  `json:"bot_id"`
	Payload          any    `json:"payload"`
}
