package helper

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"time"

	"color-server/internal/game"

	beegocontext "github.com/beego/beego/v2/server/web/context"
	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
)

// IsJSONContentType 判断是否为 JSON 请求
func IsJSONContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	return strings.Contains(ct, "json")
}

// 默认输入保护参数
const (
	defaultJSONMaxBytes int64         = 1 << 20 // 1MB
	defaultParseTimeout time.Duration = 1 * time.Second
)

type deadlineReader struct {
	r        io.Reader
	deadline time.Time
}

func (dr *deadlineReader) Read(p []byte) (int, error) {
	if time.Now().After(dr.deadline) {
		return 0, fmt.Errorf("read timeout")
	}
	return dr.r.Read(p)
}

// jsonBodyReader 在 JSON 分支下为请求体增加大小限制与解析超时保护
func jsonBodyReader(ctx *beegocontext.Context) io.Reader {
	lr := io.LimitReader(ctx.Request.Body, defaultJSONMaxBytes)
	return &deadlineReader{r: lr, deadline: time.Now().Add(defaultParseTimeout)}
}

// GetTraceID 统一提取 trace_id：优先从中间件注入的数据取，其次从常见请求头降级
func GetTraceID(ctx *beegocontext.Context) string {
	if v := ctx.Input.GetData("trace_id"); v != nil {
		return fmt.Sprint(v)
	}
	if h := strings.TrimSpace(ctx.Input.Header("X-Trace-ID")); h != "" {
		return h
	}
	if h := strings.TrimSpace(ctx.Input.Header("Trace-Id")); h != "" {
		return h
	}
	return ""
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// 错误信息使用 json 字段名
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("bet_kind", func(fl validator.FieldLevel) bool {
		k := fl.Field().String()
		for _, kind := range game.Kinds() {
			if k == kind {
				return true
			}
		}
		return false
	})
	return v
}

// BetRequest 下注请求体，金额为最小货币单位
type BetRequest struct {
	RoundID        string `json:"round_id" validate:"required,max=64"`
	Kind           string `json:"kind" validate:"required,bet_kind"`
	Value          string `json:"value" validate:"required,max=16"`
	Stake          int64  `json:"stake" validate:"required,gt=0"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=64"`
}

// AdjustRequest 运营调账
type AdjustRequest struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Amount int64  `json:"amount" validate:"required,ne=0"`
	Remark string `json:"remark" validate:"max=128"`
}

// BroadcastRequest 运营广播
type BroadcastRequest struct {
	Message string         `json:"message" validate:"required,max=512"`
	Data    map[string]any `json:"data"`
}

// ParseJSON 解析请求体并校验 validate 标签
func ParseJSON[T any](ctx *beegocontext.Context) (T, error) {
	var out T
	if !IsJSONContentType(ctx.Input.Header("Content-Type")) {
		return out, errors.New("content-type must be application/json")
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(jsonBodyReader(ctx)).Decode(&out); err != nil {
		return out, errors.New("invalid json body")
	}
	if err := validate.Struct(&out); err != nil {
		return out, validationError(err)
	}
	return out, nil
}

// ParseBet 下注同时支持 JSON 与表单
func ParseBet(ctx *beegocontext.Context) (BetRequest, error) {
	if IsJSONContentType(ctx.Input.Header("Content-Type")) {
		return ParseJSON[BetRequest](ctx)
	}
	out := BetRequest{
		RoundID:        strings.TrimSpace(ctx.Input.Query("round_id")),
		Kind:           strings.TrimSpace(ctx.Input.Query("kind")),
		Value:          strings.TrimSpace(ctx.Input.Query("value")),
		IdempotencyKey: strings.TrimSpace(ctx.Input.Query("idempotency_key")),
	}
	if s := strings.TrimSpace(ctx.Input.Query("stake")); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return out, errors.New("stake must be integer")
		}
		out.Stake = n
	}
	if err := validate.Struct(&out); err != nil {
		return out, validationError(err)
	}
	return out, nil
}

func validationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		switch e.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is required", e.Field()))
		case "bet_kind":
			msgs = append(msgs, fmt.Sprintf("field %s must be one of %s", e.Field(), strings.Join(game.Kinds(), "|")))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is invalid", e.Field()))
		}
	}
	return errors.New(strings.Join(msgs, ", "))
}

// QueryInt 读取整数查询参数，缺省或非法时返回 def
func QueryInt(ctx *beegocontext.Context, key string, def int) int {
	s := strings.TrimSpace(ctx.Input.Query(key))
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
