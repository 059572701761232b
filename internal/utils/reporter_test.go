package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
)

func TestReporter_GenerateReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	reporter := NewReporter(dir)

	start := time.Date(2024, 5, 10, 3, 0, 0, 0, time.UTC)
	summary := models.RunSummary{
		RunID:                "0f8c2c7e-1111-2222-3333-444455556666",
		TotalCategories:      2,
		SuccessfulCategories: 1,
		TotalProducts:        48,
		Results: []models.CategoryResult{
			{Success: true, Category: "incehesap_islemci", ProductCount: 48},
			{Success: false, Category: "itopya_ram", Site: "İtopya", Error: "导航重试次数已耗尽"},
		},
	}
	report := models.NewRunReport("scrape-all", summary, start, start.Add(90*time.Second))

	path, err := reporter.GenerateReport(report)
	if err != nil {
		t.Fatalf("生成报告失败: %v", err)
	}
	if want := "scrape-all_20240510_030000_0f8c2c7e.json"; filepath.Base(path) != want {
		t.Errorf("报告文件名错误: 期望 %s, 得到 %s", want, filepath.Base(path))
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("报告文件不存在: %v", err)
	}

	latest, err := reporter.LoadLatest()
	if err != nil {
		t.Fatalf("读取latest失败: %v", err)
	}
	if latest.Summary.TotalProducts != 48 || latest.Duration != 90 {
		t.Errorf("报告内容不一致: %+v", latest.Summary)
	}
	if len(latest.FailedCategories) != 1 || latest.FailedCategories[0].Category != "itopya_ram" {
		t.Errorf("失败分类不正确: %+v", latest.FailedCategories)
	}
}

func TestReporter_LoadLatestMissing(t *testing.T) {
	if _, err := NewReporter(t.TempDir()).LoadLatest(); err == nil {
		t.Error("期望返回错误")
	}
}

func TestReadKeysFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.txt")
	content := strings.Join([]string{
		"# 每晚抓取",
		"incehesap_islemci",
		"",
		"  itopya_ekran-karti  ",
		"Incehesap Islemci",
		"incehesap_islemci",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	keys, err := ReadKeysFromFile(path)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	want := []string{"incehesap_islemci", "itopya_ekran-karti"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("期望 %v, 得到 %v", want, keys)
	}

	empty := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(empty, []byte("# nothing\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadKeysFromFile(empty); err == nil {
		t.Error("空列表应返回错误")
	}

	if _, err := ReadKeysFromFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("文件不存在应返回错误")
	}
}
