package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/schollz/progressbar/v3"
)

// LatestReportFile 最近一次运行的报告文件名
const LatestReportFile = "latest.json"

// Reporter 报告生成器
type Reporter struct {
	reportDir string
}

// NewReporter 创建报告生成器
func NewReporter(reportDir string) *Reporter {
	return &Reporter{
		reportDir: reportDir,
	}
}

// GenerateReport 保存运行报告
// 同时写入带时间戳的报告与 latest.json,返回带时间戳报告的路径
func (r *Reporter) GenerateReport(report models.RunReport) (string, error) {
	if err := os.MkdirAll(r.reportDir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}

	runID := report.RunID
	if len(runID) > 8 {
		runID = runID[:8]
	}
	filename := fmt.Sprintf("%s_%s_%s.json", report.Command, report.StartTime.Format("20060102_150405"), runID)

	if err := r.saveJSONReport(filename, report); err != nil {
		return "", err
	}
	if err := r.saveJSONReport(LatestReportFile, report); err != nil {
		return "", err
	}

	path := filepath.Join(r.reportDir, filename)
	Infof("✅ 报告已生成: %s", path)
	return path, nil
}

// LoadLatest 读取最近一次运行的报告
func (r *Reporter) LoadLatest() (*models.RunReport, error) {
	data, err := os.ReadFile(filepath.Join(r.reportDir, LatestReportFile))
	if err != nil {
		return nil, fmt.Errorf("读取报告失败: %w", err)
	}
	var report models.RunReport
	if err := report.FromJSON(data); err != nil {
		return nil, fmt.Errorf("解析报告失败: %w", err)
	}
	return &report, nil
}

// saveJSONReport 保存JSON报告
func (r *Reporter) saveJSONReport(filename string, data interface{}) error {
	path := filepath.Join(r.reportDir, filename)

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("写入报告文件失败: %w", err)
	}

	Debugf("保存报告: %s", path)
	return nil
}

// NewProgressBar 创建进度条
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
