package events

import (
	"encoding/json"
	"time"
)

// SyncCompletedMessage announces one applied sync. Consumers that mirror
// the dataset elsewhere fetch the actual records themselves; the message
// only carries the new cursor and how much changed.
type SyncCompletedMessage struct {
	Cursor    int64     `json:"cursor"`
	Applied   int       `json:"applied"`
	Timestamp time.Time `json:"timestamp"`
}

// TransactionMutatedMessage announces one confirmed local write.
type TransactionMutatedMessage struct {
	Action    string    `json:"action"` // create, update or delete
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewSyncCompletedMessage(cursor int64, applied int) *SyncCompletedMessage {
	return &SyncCompletedMessage{Cursor: cursor, Applied: applied, Timestamp: time.Now()}
}

func NewTransactionMutatedMessage(action, id string) *TransactionMutatedMessage {
	return &TransactionMutatedMessage{Action: action, ID: id, Timestamp: time.Now()}
}

func (m *SyncCompletedMessage) ToJSON() ([]byte, error) { return json.Marshal(m) }

func (m *TransactionMutatedMessage) ToJSON() ([]byte, error) { return json.Marshal(m) }

// SyncCompletedFromJSON decodes a sync announcement.
func SyncCompletedFromJSON(data []byte) (*SyncCompletedMessage, error) {
	var msg SyncCompletedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// TransactionMutatedFromJSON decodes a mutation announcement.
func TransactionMutatedFromJSON(data []byte) (*TransactionMutatedMessage, error) {
	var msg TransactionMutatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
