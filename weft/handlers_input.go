// ABOUTME: Source handlers that inject content into a run: text-input and file-input.
// ABOUTME: file-input follows the two-slot convention with both slots populated.
package weft

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// TextInputHandler emits the configured text verbatim. Zero inputs, one output.
type TextInputHandler struct{}

func (h *TextInputHandler) Type() string { return "text-input" }

func (h *TextInputHandler) Ports() (int, int) { return 0, 1 }

func (h *TextInputHandler) Execute(ctx context.Context, inv *Invocation) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v, ok := inv.Config["value"]; ok {
		return v, nil
	}
	return inv.ConfigString("text", ""), nil
}

// FileInputHandler loads file content and emits two slots: slot 0 carries the
// raw content, slot 1 the non-empty lines extracted from it. Unlike branch
// types, both slots are populated. Content comes from the "content" config
// when a collaborator already loaded the file, otherwise from "path".
type FileInputHandler struct{}

func (h *FileInputHandler) Type() string { return "file-input" }

func (h *FileInputHandler) Ports() (int, int) { return 0, 2 }

func (h *FileInputHandler) Execute(ctx context.Context, inv *Invocation) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content := inv.ConfigString("content", "")
	if content == "" {
		path := inv.ConfigString("path", "")
		if path == "" {
			return nil, fmt.Errorf("file-input node %q has neither content nor path configured", inv.Node.ID)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		content = string(data)
	}

	// Slot 1 must hold a real value even with no extractable lines, so the
	// router always delivers on both ports.
	lines := []any{}
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return []any{content, lines}, nil
}
