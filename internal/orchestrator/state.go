package orchestrator

// State 受管子进程的生命周期状态
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStale           // 进程存活但心跳超时
	StateExited          // 进程已退出
	StateRestarting      // 终止旧进程并重新拉起
	StateFailedPermanent // 重启预算耗尽，不再拉起
)

var stateNames = map[State]string{
	StateStopped:         "STOPPED",
	StateStarting:        "STARTING",
	StateRunning:         "RUNNING",
	StateStale:           "STALE",
	StateExited:          "EXITED",
	StateRestarting:      "RESTARTING",
	StateFailedPermanent: "FAILED_PERMANENT",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}
