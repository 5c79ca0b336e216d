package cursor

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// 分页游标
// ============================================================================
//
// 【为什么不用 offset？】
//
// offset 分页在两次翻页之间有新流水插入时会出现重复或漏读。
// 游标记录的是"上一页最后一条"的位置，下一页只取严格位于其后的数据，
// 排序为 (date DESC, id DESC)，所以前面插入多少新数据都不影响后续页。
//
// 游标对调用方不透明：base64url("<unix 毫秒>:<id>")。
// 也接受只有时间戳的旧格式（RFC3339），此时退化为 date < c。

var ErrInvalidCursor = errors.New("分页游标不合法")

type Cursor struct {
	Date time.Time
	ID   int64 // 0 表示只按时间截断
}

func New(date time.Time, id int64) Cursor {
	return Cursor{Date: date.UTC().Truncate(time.Millisecond), ID: id}
}

// Encode 序列化为不透明字符串
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.Date.UnixMilli(), 10) + ":" + strconv.FormatInt(c.ID, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode 解析游标，空字符串返回 nil
func Decode(s string) (*Cursor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		c := New(t, 0)
		return &c, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	msPart, idPart, ok := strings.Cut(string(raw), ":")
	if !ok {
		return nil, ErrInvalidCursor
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id < 0 {
		return nil, ErrInvalidCursor
	}
	c := New(time.UnixMilli(ms), id)
	return &c, nil
}
