package service

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"cot-eval/internal/model"
)

// LoadQuestions 加载问题集。数据集名可以带命名空间（如 livebench/math），
// 取最后一段作为文件名：{dir}/{name}.json。
// maxSamples > 0 时只取前 maxSamples 个问题。
func LoadQuestions(dir, dataset string, maxSamples int) ([]model.Question, error) {
	name := dataset
	if i := strings.LastIndex(dataset, "/"); i >= 0 {
		name = dataset[i+1:]
	}
	path := filepath.Join(dir, name+".json")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("问题集文件 %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("读取问题集失败: %w", err)
	}

	var questions []model.Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("解析问题集 %s 失败: %w", path, err)
	}

	if maxSamples > 0 && maxSamples < len(questions) {
		questions = questions[:maxSamples]
	}
	log.Printf("已加载 %d 个问题", len(questions))
	return questions, nil
}
