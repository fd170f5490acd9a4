package store

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/me/flightlogic/pkg/model"
)

// encodeParameters serializes task parameters. A nil list is stored as "[]".
func encodeParameters(p model.Parameters) (string, error) {
	if p == nil {
		return "[]", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal parameters: %w", err)
	}
	return string(b), nil
}

// decodeParameters is the read side; sonic handles the hot path at boot,
// where every active task is decoded.
func decodeParameters(s string) (model.Parameters, error) {
	var p model.Parameters
	if s == "" {
		return model.Parameters{}, nil
	}
	if err := sonic.UnmarshalString(s, &p); err != nil {
		return nil, fmt.Errorf("unmarshal parameters: %w", err)
	}
	if p == nil {
		p = model.Parameters{}
	}
	return p, nil
}
