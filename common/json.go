package common

import jsoniter "github.com/json-iterator/go"

// outbox 载荷、Redis 缓存统一使用 jsoniter（与标准库行为兼容）
var json = jsoniter.ConfigCompatibleWithStandardLibrary

func JsonMarshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func JsonMarshalToString(v interface{}) (string, error) {
	return json.MarshalToString(v)
}

func JsonUnmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
