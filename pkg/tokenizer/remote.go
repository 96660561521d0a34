// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tokenizer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Remote 远端 token 编码服务客户端。服务不可达时回退到启发式估计，
// 保证计数永远可用（预算核算不因编码服务抖动而失败）
type Remote struct {
	endpoint string
	client   *resty.Client
	fallback *Heuristic
}

// countRequest 编码服务请求体
type countRequest struct {
	Text string `json:"text"`
}

// countResponse 编码服务响应体
type countResponse struct {
	Tokens int `json:"tokens"`
}

// NewRemote 创建远端计数器，endpoint 如 "http://tokenizer:8090"
func NewRemote(endpoint string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(100 * time.Millisecond)
	client.SetRetryMaxWaitTime(500 * time.Millisecond)

	return &Remote{
		endpoint: endpoint,
		client:   client,
		fallback: NewHeuristic(),
	}
}

// Count 实现 Counter；失败时使用启发式回退
func (r *Remote) Count(text string) int {
	n, err := r.CountContext(context.Background(), text)
	if err != nil {
		return r.fallback.Count(text)
	}
	return n
}

// CountContext 实现 ContextCounter
func (r *Remote) CountContext(ctx context.Context, text string) (int, error) {
	var result countResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(countRequest{Text: text}).
		SetResult(&result).
		Post(r.endpoint + "/v1/count")
	if err != nil {
		return 0, err
	}
	if resp.StatusCode() != 200 {
		return 0, fmt.Errorf("token encoding service returned %d: %s", resp.StatusCode(), resp.String())
	}
	return result.Tokens, nil
}
