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

// Package tokenizer 提供 token 计数抽象：本地启发式与远端编码服务两种实现
package tokenizer

import "context"

// Counter token 计数接口（上下文合成与预算核算共用）
type Counter interface {
	// Count 返回 text 的 token 数；实现必须是确定性的
	Count(text string) int
}

// ContextCounter 支持取消的计数接口（远端实现使用）
type ContextCounter interface {
	Counter
	CountContext(ctx context.Context, text string) (int, error)
}
