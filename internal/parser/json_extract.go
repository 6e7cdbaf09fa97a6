package parser

import (
	"encoding/json"
	"errors"
	"strings"

	"talent-search/internal/apperr"
	"talent-search/internal/types"
)

var errNoJSONObject = errors.New("no JSON object found in model output")

// StripCodeFences 去掉 BOM 和 ```json / ``` 包裹
func StripCodeFences(text string) string {
	s := strings.TrimPrefix(text, "\ufeff")
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// 去掉语言标记（json / JSON / 空）
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		tag := strings.TrimSpace(s[:nl])
		if tag == "" || strings.EqualFold(tag, "json") {
			s = s[nl+1:]
		}
	} else {
		s = strings.TrimPrefix(strings.TrimPrefix(s, "json"), "JSON")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ExtractJSONObject 返回第一个完整的顶层 JSON 对象，字符串内的括号不计入层级
func ExtractJSONObject(text string) (string, error) {
	s := StripCodeFences(text)
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", errNoJSONObject
	}

	level := 0
	inStr := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			level++
		case '}':
			level--
			if level == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errNoJSONObject
}

// ParseAnalysis 把模型最终输出解析为 AnalysisResult；失败时错误中携带原文
func ParseAnalysis(raw string) (types.AnalysisResult, error) {
	var result types.AnalysisResult
	if strings.TrimSpace(raw) == "" {
		return result, apperr.Malformed("parse_analysis", raw, errors.New("empty model output"))
	}

	obj, err := ExtractJSONObject(raw)
	if err != nil {
		return result, apperr.Malformed("parse_analysis", raw, err)
	}
	if err := json.Unmarshal([]byte(obj), &result); err != nil {
		return types.AnalysisResult{}, apperr.Malformed("parse_analysis", raw, err)
	}
	result.Normalize()
	return result, nil
}
