package main

import (
	"fmt"
	"strings"
)

// 命令行接受的日志级别
var validLogLevels = map[string]bool{
	"DEBUG":   true,
	"INFO":    true,
	"WARNING": true,
	"ERROR":   true,
}

// ValidateLogLevel 校验--log-level,不区分大小写,空值表示使用配置
func ValidateLogLevel(level string) error {
	if level == "" {
		return nil
	}
	if !validLogLevels[strings.ToUpper(level)] {
		return fmt.Errorf("无效的日志级别: %s (有效值: DEBUG, INFO, WARNING, ERROR)", level)
	}
	return nil
}

// ValidateCleanupDays 校验cleanup的天数
func ValidateCleanupDays(days int) error {
	if days < 1 || days > 3650 {
		return fmt.Errorf("天数必须在1-3650之间,当前值: %d", days)
	}
	return nil
}
