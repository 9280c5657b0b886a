package assign

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Assignment 持久化的频道分配文档
type Assignment struct {
	Metadata    Metadata       `json:"metadata"`
	Assignments map[string]int `json:"assignments"`
}

// Metadata 分配文档的元信息
type Metadata struct {
	TotalBots     int   `json:"total_bots"`
	TotalChannels int   `json:"total_channels"`
	BotIDs        []int `json:"bot_ids"`
}

// FileStore 频道分配的 JSON 文件存储
// 写入走 write-temp-then-rename，避免部分写入导致文件损坏
type FileStore struct {
	path string
}

// NewFileStore 创建文件存储
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load 读取分配文档
// 文件不存在返回空文档；文件损坏返回空文档和错误（调用方记录 full-rebalance）
func (s *FileStore) Load() (*Assignment, error) {
	empty := &Assignment{Assignments: map[string]int{}}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return empty, nil
		}
		return empty, fmt.Errorf("failed to read assignment file %s: %w", s.path, err)
	}

	var a Assignment
	if err := json.Unmarshal(data, &a); err != nil {
		return empty, fmt.Errorf("assignment file %s is corrupt: %w", s.path, err)
	}
	if a.Assignments == nil {
		a.Assignments = map[string]int{}
	}
	return &a, nil
}

// Save 原子写入分配文档
func (s *FileStore) Save(a *Assignment) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create assignment dir: %w", err)
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal assignment: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".channel_assignment-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp assignment file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp assignment file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp assignment file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename assignment file: %w", err)
	}
	return nil
}
