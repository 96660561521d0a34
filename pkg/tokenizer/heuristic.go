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

import "strings"

// Heuristic 本地启发式计数器：字符/4 与词数的混合估计
// （真实 Tokenizer 由外部编码服务提供，见 remote.go）
type Heuristic struct{}

// NewHeuristic 创建启发式计数器
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Count 实现 Counter。1 token ≈ 4 字符，词边界修正取两者较大值
func (h *Heuristic) Count(text string) int {
	if text == "" {
		return 0
	}
	byChars := (len(text) + 3) / 4
	byWords := len(strings.Fields(text))
	if byWords > byChars {
		return byWords
	}
	return byChars
}
