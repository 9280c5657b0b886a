package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MappingKind 映射类型
const (
	MappingKindMessage = "message" // 源消息 ts -> master 消息 ts（编辑定位）
	MappingKindParent  = "parent"  // 源线程父 ts -> master 线程锚点 ts（线程回复定位）
)

// DeliveryMapping 投递映射
// Worker 首次成功转发后写入，后续编辑和线程回复事件据此定位目标消息
type DeliveryMapping struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	Kind            string             `bson:"kind"`
	SourceChannelID string             `bson:"source_channel_id"`
	SourceTS        string             `bson:"source_ts"`
	TargetChannelID string             `bson:"target_channel_id"`
	TargetTS        string             `bson:"target_ts"`
	CreatedAt       time.Time          `bson:"created_at"` // TTL索引
}
