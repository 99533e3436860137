package protocol

// DeviceTopic is the bus topic a device's sessions subscribe to.
func DeviceTopic(deviceID string) string {
	return "device:" + deviceID
}

// UserTopic is the bus topic carrying a user's in-app notifications.
func UserTopic(userID string) string {
	return "user:" + userID
}
