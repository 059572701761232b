package models

import "errors"

var (
	ErrNavigationExhausted   = errors.New("导航重试次数已耗尽")
	ErrUnknownCategory       = errors.New("未知分类")
	ErrUnknownSite           = errors.New("未知站点")
	ErrBrowserLaunch         = errors.New("浏览器启动失败")
	ErrLockHeld              = errors.New("已有抓取任务在运行")
	ErrInsufficientResources = errors.New("系统资源不足")
)
