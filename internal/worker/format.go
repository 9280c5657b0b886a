package worker

import (
	"fmt"
	"strconv"
	"time"
)

// 转发消息统一渲染为美东时间，与运营侧的值班时区一致
var easternTime = loadEastern()

func loadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}

// FormatForward 渲染转发到 master 频道的消息体
// 格式: *From #<源频道>*\n<正文>\n_Posted by <@用户> at <美东时间>_
func FormatForward(sourceChannelName, text, sender, ts string) string {
	return fmt.Sprintf("*From #%s*\n%s\n_Posted by <@%s> at %s_",
		sourceChannelName, text, sender, slackTSToEastern(ts))
}

// slackTSToEastern 把 Slack 消息 ts（秒.微秒）转为美东时间字符串
func slackTSToEastern(ts string) string {
	seconds, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return ts
	}
	sec := int64(seconds)
	nsec := int64((seconds - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).In(easternTime).Format("2006-01-02 03:04:05 PM MST")
}
