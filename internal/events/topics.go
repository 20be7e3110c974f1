package events

const (
	TopicDeviceStatus    = "device.status"
	TopicActionCompleted = "action.completed"
)
