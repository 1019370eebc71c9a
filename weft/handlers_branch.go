// ABOUTME: Branch handlers producing two-slot yes/no output: decision, judgment, and yes-no.
// ABOUTME: Exactly one slot carries the input value through; the other is nil and delivers nothing.
package weft

import (
	"context"
)

// branchSlots routes the input into slot 0 on yes and slot 1 on no.
func branchSlots(input any, yes bool) []any {
	if yes {
		return []any{input, nil}
	}
	return []any{nil, input}
}

// DecisionHandler routes its input to the YES slot when the configured
// condition holds, and to the NO slot otherwise. With no condition it falls
// back to input truthiness.
type DecisionHandler struct{}

func (h *DecisionHandler) Type() string { return "decision" }

func (h *DecisionHandler) Ports() (int, int) { return 1, slotCount }

func (h *DecisionHandler) Execute(ctx context.Context, inv *Invocation) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	input := inv.FirstInput()
	cond := inv.ConfigString("condition", "")
	if cond == "" {
		return branchSlots(input, isTruthy(input)), nil
	}
	return branchSlots(input, EvaluateCondition(cond, input)), nil
}

// JudgmentHandler routes on a condition over the input value, like decision.
// The separate type exists so workflows can distinguish authored branch
// points from rubric-style judgments in their documents.
type JudgmentHandler struct{}

func (h *JudgmentHandler) Type() string { return "judgment" }

func (h *JudgmentHandler) Ports() (int, int) { return 1, slotCount }

func (h *JudgmentHandler) Execute(ctx context.Context, inv *Invocation) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	input := inv.FirstInput()
	cond := inv.ConfigString("condition", "")
	if cond == "" {
		return branchSlots(input, isTruthy(input)), nil
	}
	return branchSlots(input, EvaluateCondition(cond, input)), nil
}

// YesNoHandler routes purely on input truthiness.
type YesNoHandler struct{}

func (h *YesNoHandler) Type() string { return "yes-no" }

func (h *YesNoHandler) Ports() (int, int) { return 1, slotCount }

func (h *YesNoHandler) Execute(ctx context.Context, inv *Invocation) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	input := inv.FirstInput()
	return branchSlots(input, isTruthy(input)), nil
}
