package model

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	ChangeActionInsert = "INSERT"
	ChangeActionUpdate = "UPDATE"
	ChangeActionDelete = "DELETE"
)

// ChangeEvent 行变更事件，携带变更后的整行数据
// 订阅方按 id 增量更新本地状态，不需要重新拉全量
type ChangeEvent struct {
	Table     string          `json:"table"`
	Action    string          `json:"action"`
	ID        string          `json:"id"`
	UserID    string          `json:"user_id,omitempty"` // 归属用户，普通用户只能收到自己的事件
	Row       json.RawMessage `json:"row,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewChangeEvent 构造事件，row 为 nil 时不带行数据
func NewChangeEvent(table, action string, id any, userID string, row any) (*ChangeEvent, error) {
	event := &ChangeEvent{
		Table:     table,
		Action:    action,
		ID:        fmt.Sprint(id),
		UserID:    userID,
		Timestamp: time.Now(),
	}
	if row != nil {
		data, err := json.Marshal(row)
		if err != nil {
			return nil, err
		}
		event.Row = data
	}
	return event, nil
}

// Key 消息 key：table:id，保证同一行的事件落在同一分区、按序消费
func (e *ChangeEvent) Key() string {
	return e.Table + ":" + e.ID
}
