package orchestrator

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// Handle 对一个已启动子进程的控制句柄
type Handle interface {
	PID() int
	Signal(sig os.Signal) error
	Kill() error
	// Done 进程退出后恰好投递一次退出结果
	Done() <-chan error
}

// Spawner 子进程启动器
type Spawner interface {
	// Spawn 按角色名启动一个进程（如 worker、listener-2）
	// listener 角色携带 botID，作为 BOT_ID 注入子进程环境
	Spawn(role string, botID int) (Handle, error)
}

// execSpawner 重新执行自身二进制并以子命令切换角色
type execSpawner struct {
	binary string
}

// NewExecSpawner 创建基于 os.Executable 的启动器
func NewExecSpawner() (Spawner, error) {
	binary, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve own binary: %w", err)
	}
	return &execSpawner{binary: binary}, nil
}

func (s *execSpawner) Spawn(role string, botID int) (Handle, error) {
	command := role
	if i := strings.IndexByte(role, '-'); i > 0 {
		command = role[:i]
	}

	cmd := exec.Command(s.binary, command)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("RELAY_ROLE=%s", role),
		fmt.Sprintf("BOT_ID=%d", botID),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", role, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	return &execHandle{cmd: cmd, done: done}, nil
}

type execHandle struct {
	cmd  *exec.Cmd
	done chan error
}

func (h *execHandle) PID() int { return h.cmd.Process.Pid }

func (h *execHandle) Signal(sig os.Signal) error {
	return h.cmd.Process.Signal(sig)
}

func (h *execHandle) Kill() error {
	return h.cmd.Process.Signal(syscall.SIGKILL)
}

func (h *execHandle) Done() <-chan error { return h.done }
