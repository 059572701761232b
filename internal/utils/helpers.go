package utils

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var categoryKeyPattern = regexp.MustCompile(`^[a-z0-9]+_[a-z0-9-]+$`)

// ValidateCategoryKey 校验分类键格式 <站点>_<分类>
func ValidateCategoryKey(key string) error {
	if !categoryKeyPattern.MatchString(key) {
		return fmt.Errorf("分类键格式无效: %q (应为 <站点>_<分类>, 如 incehesap_islemci)", key)
	}
	return nil
}

// ReadKeysFromFile 从文件中读取分类键列表
// 每行一个,忽略空行和 # 开头的注释,重复的键只保留第一次出现
func ReadKeysFromFile(filepath string) ([]string, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return nil, fmt.Errorf("打开分类列表失败: %w", err)
	}
	defer file.Close()

	keys := make([]string, 0)
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if err := ValidateCategoryKey(line); err != nil {
			Warnf("跳过无效分类键 (行 %d): %v", lineNum, err)
			continue
		}
		if seen[line] {
			continue
		}
		seen[line] = true
		keys = append(keys, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取分类列表失败: %w", err)
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("分类列表中没有有效的分类键")
	}

	Infof("从文件加载了 %d 个分类键", len(keys))
	return keys, nil
}
