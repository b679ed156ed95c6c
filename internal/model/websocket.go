package model

// WebSocket message types
const (
	WSMessageTypeSnapshot = "snapshot"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSSnapshotMessage carries one full job snapshot. The feed emits one on
// subscribe, then one per observed mutation, and a final one at the
// terminal stage before the server closes the connection.
type WSSnapshotMessage struct {
	Type     string                 `json:"type"`
	JobID    string                 `json:"jobId"`
	Snapshot *CaptureStatusResponse `json:"snapshot"`
}
