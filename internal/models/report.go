package models

import (
	"encoding/json"
	"time"
)

// RunReport 一次运行的报告
type RunReport struct {
	RunID     string    `json:"run_id"`
	Command   string    `json:"command"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  float64   `json:"duration"` // 秒

	Summary RunSummary `json:"summary"`

	// 失败的分类,便于快速定位
	FailedCategories []FailedCategory `json:"failed_categories"`
}

// FailedCategory 失败分类信息
type FailedCategory struct {
	Category string `json:"category"`
	Site     string `json:"site,omitempty"`
	Error    string `json:"error"`
}

// NewRunReport 由运行摘要生成报告
func NewRunReport(command string, summary RunSummary, start, end time.Time) RunReport {
	report := RunReport{
		RunID:            summary.RunID,
		Command:          command,
		StartTime:        start,
		EndTime:          end,
		Duration:         end.Sub(start).Seconds(),
		Summary:          summary,
		FailedCategories: make([]FailedCategory, 0),
	}
	for _, r := range summary.Results {
		if !r.Success {
			report.FailedCategories = append(report.FailedCategories, FailedCategory{
				Category: r.Category,
				Site:     r.Site,
				Error:    r.Error,
			})
		}
	}
	return report
}

// ToJSON 序列化为JSON
func (r *RunReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON 从JSON反序列化
func (r *RunReport) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
