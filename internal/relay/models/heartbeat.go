package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 受管进程的角色命名
const (
	RoleWorker       = "worker"
	RoleListener     = "listener"
	RoleOrchestrator = "orchestrator"
)

// Heartbeat 子进程心跳记录
// 子进程按固定间隔 upsert，orchestrator 轮询判断 staleness
type Heartbeat struct {
	ID       primitive.ObjectID `bson:"_id,omitempty"`
	Role     string             `bson:"role"` // worker / listener-1 / listener-2 ...
	PID      int                `bson:"pid"`
	LastSeen time.Time          `bson:"last_seen"`
}
