package models

import "time"

// SessionStats 单次运行的抓取统计
// 显式传递给导航器与遍历引擎,由唯一的活动worker修改
type SessionStats struct {
	RunID             string    `json:"run_id"`
	StartedAt         time.Time `json:"started_at"`
	PagesScraped      int       `json:"pages_scraped"`
	ProductsFound     int       `json:"products_found"`
	ChallengesSolved  int       `json:"challenges_solved"`
	ErrorsEncountered int       `json:"errors_encountered"`
}

// NewSessionStats 创建新的运行统计
func NewSessionStats() *SessionStats {
	return &SessionStats{
		RunID:     generateID(),
		StartedAt: time.Now(),
	}
}

// Snapshot 返回统计的副本
func (s *SessionStats) Snapshot() SessionStats {
	if s == nil {
		return SessionStats{}
	}
	return *s
}

// GuardKind 合并时采取的保护路径
type GuardKind string

const (
	GuardNone       GuardKind = ""          // 正常合并
	GuardEmptyBatch GuardKind = "empty"     // 空批次
	GuardShrinkage  GuardKind = "shrinkage" // 批次相对已有数据过小
)

// MergeStats 合并结果统计
type MergeStats struct {
	New          int       `json:"new_products"`
	Updated      int       `json:"updated_products"`
	PriceChanges int       `json:"price_changes"`
	Deactivated  int       `json:"deactivated_products"`
	Existing     int       `json:"existing_products"`
	Guard        GuardKind `json:"guard,omitempty"`
}

// CategoryResult 单个分类的抓取结果
type CategoryResult struct {
	Success      bool         `json:"success"`
	Error        string       `json:"error,omitempty"`
	ProductCount int          `json:"productCount"`
	Site         string       `json:"site,omitempty"`
	Category     string       `json:"category"`
	Merge        MergeStats   `json:"merge"`
	Stats        SessionStats `json:"stats"`
	ProcessedAt  time.Time    `json:"processed_at"`
	Duration     float64      `json:"duration"` // 秒
}

// RunSummary 批量抓取摘要
type RunSummary struct {
	RunID                string           `json:"run_id"`
	TotalCategories      int              `json:"totalCategories"`
	SuccessfulCategories int              `json:"successfulCategories"`
	TotalProducts        int              `json:"totalProducts"`
	SessionStats         SessionStats     `json:"sessionStats"`
	Results              []CategoryResult `json:"results"`
	Interrupted          bool             `json:"interrupted,omitempty"`
	Duration             float64          `json:"duration"` // 秒
}

// Failed 返回失败的分类数
func (s *RunSummary) Failed() int {
	return s.TotalCategories - s.SuccessfulCategories
}
