package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Identity 表示通过令牌验证后绑定到连接上的用户身份。
//
// 身份在连接建立时由令牌校验器生成一次，之后在连接生命周期内不可变。
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
}

// IsZero 判断身份是否为空
func (i Identity) IsZero() bool {
	return i.ID == ""
}

// FlexibleID 兼容字符串与数字两种形式的用户ID
//
// 客户端和签发方可能把用户ID编码为 JSON 数字（自增主键），
// 这里统一解析为字符串。
type FlexibleID string

// UnmarshalJSON 解析字符串或数字形式的ID
func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexibleID(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*f = FlexibleID(n.String())
	return nil
}

// String 返回ID字符串
func (f FlexibleID) String() string {
	return string(f)
}
