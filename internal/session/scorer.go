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

package session

import "strings"

// Scorer 检索相关性打分。返回值越大越相关，0 表示不相关
type Scorer interface {
	Score(query, content string) float64
}

// LexicalScorer 默认打分器：大小写不敏感的词项重合率。
// 语义检索（向量召回等）通过替换 Scorer 接入
type LexicalScorer struct{}

func (LexicalScorer) Score(query, content string) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(content)
	hit := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			hit++
		}
	}
	return float64(hit) / float64(len(terms))
}
