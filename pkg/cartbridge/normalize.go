package cartbridge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NormalizeVariantID reduces any accepted variant identifier shape to its
// platform-native numeric form. Identifiers arrive either as plain numbers,
// numeric strings, or structured global id strings whose numeric suffix is
// the native id. Add and remove paths share this so lookups by id agree.
func NormalizeVariantID(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing variant id")
	}

	var numeric int64
	if err := json.Unmarshal(raw, &numeric); err == nil {
		if numeric <= 0 {
			return 0, fmt.Errorf("invalid variant id %d", numeric)
		}
		return numeric, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, fmt.Errorf("unsupported variant id shape: %s", raw)
	}
	return normalizeVariantString(text)
}

func normalizeVariantString(text string) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("empty variant id")
	}
	// Structured ids look like gid://shop/ProductVariant/123456; the suffix
	// after the last separator is the native id.
	if idx := strings.LastIndex(text, "/"); idx >= 0 {
		text = text[idx+1:]
	}
	// Query params occasionally trail the suffix.
	if idx := strings.IndexByte(text, '?'); idx >= 0 {
		text = text[:idx]
	}
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("variant id %q has no numeric suffix", text)
	}
	return id, nil
}
