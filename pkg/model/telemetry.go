package model

// LogEntry is a persisted log record. Sent and Echoed track downlink
// bookkeeping: Sent once queued for the radio, Echoed once acknowledged.
type LogEntry struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	TaskID    TaskID    `json:"task_id"`
	PluginID  PluginID  `json:"plugin_id"`
	CreatedAt Timestamp `json:"created_at"`
	Sent      bool      `json:"sent"`
	Echoed    bool      `json:"echoed"`
}

// Datum is one recorded sensor sample.
type Datum struct {
	ID         int64     `json:"id"`
	Sensor     string    `json:"sensor"`
	Value      string    `json:"value"`
	RecordedAt Timestamp `json:"recorded_at"`
}

// Packet is an outbound radio payload waiting for its send time.
// SendAt is Unset until a pass is assigned.
type Packet struct {
	ID      int64     `json:"id"`
	Payload string    `json:"payload"`
	SendAt  Timestamp `json:"send_at"`
}
