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

package compositor

import (
	"strings"

	"memory-engine/pkg/errors"
)

// TruncationStrategy 截断策略
type TruncationStrategy string

const (
	TruncateEnd       TruncationStrategy = "end"       // 保留最长可行前缀，尾部追加截断标记
	TruncateSentence  TruncationStrategy = "sentence"  // 只保留完整句子
	TruncateMiddle    TruncationStrategy = "middle"    // 保头保尾，中间以省略号代替
	TruncateParagraph TruncationStrategy = "paragraph" // 只保留完整段落
)

const (
	middleEllipsis = "\n...\n"
	endEllipsis    = " ..."
)

// TruncateToFit 把 content 截到 maxTokens 以内。无论何种策略，
// 返回文本的 token 数都不超过 maxTokens
func (c *Compositor) TruncateToFit(content string, maxTokens int, strategy TruncationStrategy) (string, error) {
	if maxTokens < 0 {
		return "", errors.Wrap(errors.ErrInvalidArg, "negative maxTokens")
	}
	if c.counter.Count(content) <= maxTokens {
		return content, nil
	}
	switch strategy {
	case "", TruncateEnd:
		return c.truncateEnd(content, maxTokens), nil
	case TruncateSentence:
		return c.truncateUnits(splitSentences(content), " ", maxTokens), nil
	case TruncateParagraph:
		return c.truncateUnits(splitParagraphs(content), "\n\n", maxTokens), nil
	case TruncateMiddle:
		return c.truncateMiddle(content, maxTokens), nil
	default:
		return "", errors.Wrapf(errors.ErrInvalidArg, "unknown truncation strategy %q", strategy)
	}
}

// truncateEnd 二分出合预算的最长前缀并追加截断标记；标记本身计入预算
func (c *Compositor) truncateEnd(content string, maxTokens int) string {
	suffixTokens := c.counter.Count(endEllipsis)
	usable := maxTokens - suffixTokens
	if usable <= 0 {
		return c.longestPrefix(content, maxTokens)
	}
	out := c.longestPrefix(content, usable) + endEllipsis
	for c.counter.Count(out) > maxTokens && usable > 0 {
		usable--
		out = c.longestPrefix(content, usable) + endEllipsis
	}
	if c.counter.Count(out) > maxTokens {
		return c.longestPrefix(content, maxTokens)
	}
	return out
}

// longestPrefix 在 rune 边界上二分，找 token 数不超限的最长前缀
func (c *Compositor) longestPrefix(content string, maxTokens int) string {
	runes := []rune(content)
	lo, hi := 0, len(runes) // 不变量：前缀 runes[:lo] 合预算，runes[:hi+1] 超预算
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if c.counter.Count(string(runes[:mid])) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return strings.TrimRight(string(runes[:lo]), " \t\n")
}

// truncateUnits 按完整单元（句子或段落）贪心装填
func (c *Compositor) truncateUnits(units []string, joiner string, maxTokens int) string {
	var b strings.Builder
	kept := ""
	for _, u := range units {
		candidate := kept
		if candidate != "" {
			candidate += joiner
		}
		candidate += u
		if c.counter.Count(candidate) > maxTokens {
			break
		}
		kept = candidate
	}
	b.WriteString(kept)
	return b.String()
}

// truncateMiddle 头尾各占剩余额度一半，中间以省略号衔接；
// 拼接后复核一次，超限则收缩尾部
func (c *Compositor) truncateMiddle(content string, maxTokens int) string {
	ellipsisTokens := c.counter.Count(middleEllipsis)
	usable := maxTokens - ellipsisTokens
	if usable <= 1 {
		return c.truncateEnd(content, maxTokens)
	}
	headBudget := usable / 2
	tailBudget := usable - headBudget

	head := c.longestPrefix(content, headBudget)
	tail := c.truncateStart(content, tailBudget)
	out := head + middleEllipsis + tail
	for c.counter.Count(out) > maxTokens && tailBudget > 0 {
		tailBudget--
		tail = c.truncateStart(content, tailBudget)
		out = head + middleEllipsis + tail
	}
	if c.counter.Count(out) > maxTokens {
		return c.truncateEnd(content, maxTokens)
	}
	return out
}

// truncateStart truncateEnd 的镜像：保留最长可行后缀
func (c *Compositor) truncateStart(content string, maxTokens int) string {
	runes := []rune(content)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if c.counter.Count(string(runes[len(runes)-mid:])) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return strings.Trim(string(runes[len(runes)-lo:]), " \t\n")
}

// splitSentences 按 .!? 切句，保留标点
func splitSentences(content string) []string {
	var out []string
	start := 0
	for i, r := range content {
		if r == '.' || r == '!' || r == '?' {
			s := strings.TrimSpace(content[start : i+1])
			if s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if tail := strings.TrimSpace(content[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

// splitParagraphs 按空行切段
func splitParagraphs(content string) []string {
	var out []string
	for _, p := range strings.Split(content, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
