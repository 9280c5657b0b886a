package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"relay_bot/internal/logger"
	"relay_bot/internal/slackapi"
)

// ChannelLister 工作区频道枚举
type ChannelLister interface {
	ListChannels(ctx context.Context) ([]slackapi.ChannelInfo, error)
}

// Assigner 频道归属分配
// Assign 只返回本次新分配的频道，存量绑定不计入结果
type Assigner interface {
	Assign(channelIDs []string) (map[int][]string, error)
}

// Discovery 频道发现
// 枚举工作区全部频道，筛出活跃的 admin 频道交给分配引擎，
// 并把发现结果落盘供运维排查；仅由 bot 1 的 listener 周期执行
type Discovery struct {
	lister      ChannelLister
	assigner    Assigner
	detailsPath string
	now         func() time.Time
}

// New 创建 Discovery
// detailsPath 为发现结果的落盘路径，空串表示不落盘
func New(lister ChannelLister, assigner Assigner, detailsPath string) *Discovery {
	return &Discovery{
		lister:      lister,
		assigner:    assigner,
		detailsPath: detailsPath,
		now:         time.Now,
	}
}

// Refresh 执行一轮发现与分配
func (d *Discovery) Refresh(ctx context.Context) error {
	channels, err := d.lister.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("channel discovery failed: %w", err)
	}
	logger.L().Infof("Discovered %d channels", len(channels))

	admin := filterAdminChannels(channels)
	logger.L().Infof("Active admin channels: %d", len(admin))

	ids := make([]string, 0, len(admin))
	for _, ch := range admin {
		ids = append(ids, ch.ID)
	}

	added, err := d.assigner.Assign(ids)
	if err != nil {
		return fmt.Errorf("channel assignment failed: %w", err)
	}
	for botID, chs := range added {
		if len(chs) > 0 {
			logger.L().Infof("Assigned %d new channels to bot %d", len(chs), botID)
		}
	}

	if err := d.saveDetails(admin); err != nil {
		logger.L().Warnf("Failed to save discovered channel details: %v", err)
	}
	return nil
}

// filterAdminChannels 仅保留活跃的 -admin/-admins 频道
func filterAdminChannels(channels []slackapi.ChannelInfo) []slackapi.ChannelInfo {
	var admin []slackapi.ChannelInfo
	for _, ch := range channels {
		if ch.IsArchived {
			continue
		}
		if strings.HasSuffix(ch.Name, "-admin") || strings.HasSuffix(ch.Name, "-admins") {
			admin = append(admin, ch)
		}
	}
	return admin
}

type discoveredChannels struct {
	Metadata struct {
		TotalChannels int       `json:"total_channels"`
		DiscoveredAt  time.Time `json:"discovered_at"`
	} `json:"metadata"`
	Channels []slackapi.ChannelInfo `json:"channels"`
}

func (d *Discovery) saveDetails(channels []slackapi.ChannelInfo) error {
	if d.detailsPath == "" {
		return nil
	}

	var details discoveredChannels
	details.Metadata.TotalChannels = len(channels)
	details.Metadata.DiscoveredAt = d.now().UTC()
	details.Channels = channels

	raw, err := json.MarshalIndent(&details, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.detailsPath), ".discovered-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), d.detailsPath)
}
