// Package errors 提供统一错误辅助与引擎错误类型，不依赖 internal
package errors

import (
	"errors"
	"fmt"
)

// 常用哨兵错误（可按需扩展错误码）
var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidArg = errors.New("invalid argument")

	// ErrSpanNotFound Span 查找未命中（非致命）
	ErrSpanNotFound = errors.New("span not found")
	// ErrReferenceNotFound Reference 查找未命中（非致命）
	ErrReferenceNotFound = errors.New("reference not found")
	// ErrSessionNotFound Session 查找未命中
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed Session 已进入终态，拒绝一切变更操作
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionTimeout 时间预算耗尽，Session 转入 timeout 终态
	ErrSessionTimeout = errors.New("session timeout")
)

// BudgetDimension 预算维度
type BudgetDimension string

const (
	BudgetTokens   BudgetDimension = "tokens"
	BudgetTime     BudgetDimension = "time"
	BudgetRetries  BudgetDimension = "retries"
	BudgetSubcalls BudgetDimension = "subcalls"
)

// BudgetExhaustedError 预算耗尽：操作未执行，账本不变
type BudgetExhaustedError struct {
	Dimension BudgetDimension
	Requested int64
	Remaining int64
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("budget exhausted: dimension=%s requested=%d remaining=%d",
		e.Dimension, e.Requested, e.Remaining)
}

// IsBudgetExhausted 判断 err 是否为预算耗尽
func IsBudgetExhausted(err error) bool {
	var be *BudgetExhaustedError
	return errors.As(err, &be)
}

// IntegrityMismatchError 声明 hash 与重算 hash 不一致：Span 留存标记，不再参与检索
type IntegrityMismatchError struct {
	SpanID       string
	DeclaredHash string
	ComputedHash string
}

func (e *IntegrityMismatchError) Error() string {
	return fmt.Sprintf("integrity mismatch: span=%s declared=%s computed=%s",
		e.SpanID, e.DeclaredHash, e.ComputedHash)
}

// PinnedBudgetExceededError Pin 被拒绝，附带 used/remaining 便于调用方决策
type PinnedBudgetExceededError struct {
	ClientID  string
	Requested int64
	Used      int64
	Budget    int64
}

func (e *PinnedBudgetExceededError) Error() string {
	return fmt.Sprintf("pinned budget exceeded: client=%s requested=%d used=%d budget=%d remaining=%d",
		e.ClientID, e.Requested, e.Used, e.Budget, e.Remaining())
}

// Remaining 剩余可 Pin 的 token 数
func (e *PinnedBudgetExceededError) Remaining() int64 {
	r := e.Budget - e.Used
	if r < 0 {
		return 0
	}
	return r
}

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is errors.Is 透传，调用方无需同时导入标准库 errors
func Is(err, target error) bool { return errors.Is(err, target) }

// As errors.As 透传
func As(err error, target interface{}) bool { return errors.As(err, target) }
