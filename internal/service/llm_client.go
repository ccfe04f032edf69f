package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"cot-eval/internal/config"
)

// ChatClient 模型能力接口：补全与嵌入。
// 具体的提供方（OpenAI兼容端点）对上层不可见，方便测试时注入假实现。
type ChatClient interface {
	Completion(ctx context.Context, model, prompt string, temperature float64) (string, error)
	Embedding(ctx context.Context, text string) ([]float64, error)
}

type OpenAIClient struct {
	BaseURL        string
	APIKey         string
	EmbeddingModel string
	Client         *http.Client
	RetryCount     int
	RetryDelay     time.Duration
}

func NewOpenAIClient(cfg *config.OpenAIConfig) *OpenAIClient {
	return &OpenAIClient{
		BaseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		APIKey:         cfg.APIKey,
		EmbeddingModel: cfg.EmbeddingModel,
		Client: &http.Client{
			Timeout: 120 * time.Second,
		},
		RetryCount: 3,
		RetryDelay: 5 * time.Second,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Completion 生成文本补全，失败时按固定间隔重试
func (c *OpenAIClient) Completion(ctx context.Context, model, prompt string, temperature float64) (string, error) {
	reqBody := chatCompletionRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a helpful assistant."},
			{Role: "user", Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   1024,
	}

	var lastErr error
	for attempt := 0; attempt < c.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrGeneration, ctx.Err())
			case <-time.After(c.RetryDelay):
			}
		}

		start := time.Now()
		var resp chatCompletionResponse
		err := c.postJSON(ctx, "/chat/completions", reqBody, &resp)
		if err != nil {
			lastErr = err
			log.Printf("生成补全时出错 (尝试 %d/%d): %v", attempt+1, c.RetryCount, err)
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("响应中没有choices")
			log.Printf("生成补全时出错 (尝试 %d/%d): %v", attempt+1, c.RetryCount, lastErr)
			continue
		}
		log.Printf("生成补全耗时: %.2f秒, 模型: %s", time.Since(start).Seconds(), model)
		return resp.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("%w: 已达到最大重试次数: %v", ErrGeneration, lastErr)
}

// Embedding 获取文本的向量嵌入
func (c *OpenAIClient) Embedding(ctx context.Context, text string) ([]float64, error) {
	// 预处理：换行替换为空格
	text = strings.ReplaceAll(text, "\n", " ")

	reqBody := embeddingRequest{
		Model: c.EmbeddingModel,
		Input: text,
	}

	var resp embeddingResponse
	if err := c.postJSON(ctx, "/embeddings", reqBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: 响应中没有嵌入数据", ErrRetrieval)
	}
	return resp.Data[0].Embedding, nil
}

func (c *OpenAIClient) postJSON(ctx context.Context, path string, reqBody, respBody interface{}) error {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		// 尝试解析错误信息
		var errResp map[string]interface{}
		if json.Unmarshal(body, &errResp) == nil {
			if e, ok := errResp["error"].(map[string]interface{}); ok {
				if msg, ok := e["message"].(string); ok {
					return fmt.Errorf("API返回错误: %d, %s", resp.StatusCode, msg)
				}
			}
		}
		// 无法解析时返回原始body（截取前500字符避免过长）
		bodyStr := string(body)
		if len(bodyStr) > 500 {
			bodyStr = bodyStr[:500] + "..."
		}
		return fmt.Errorf("API返回错误: %d, %s", resp.StatusCode, bodyStr)
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}
