package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"mime/multipart"
	"strings"
)

// dayNumber 兼容前端传入数字、数字字符串、空字符串或 null 的 day_number。
type dayNumber struct {
	value *int
}

func (d *dayNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		d.value = nil
		return nil
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		d.value = parseDay(raw)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("day_number: %w", err)
	}
	d.value = parseDay(n.String())
	return nil
}

// UnmarshalText 处理表单提交的 day_number。
func (d *dayNumber) UnmarshalText(text []byte) error {
	d.value = parseDay(string(text))
	return nil
}

// Int 返回解析结果，缺省或无法解析时为 nil。
func (d dayNumber) Int() *int {
	return d.value
}

// parseDay 按十进制整数解析，失败返回 nil；"2.0" 之类的数值取整数部分。
func parseDay(raw string) *int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if whole, _, ok := strings.Cut(raw, "."); ok {
		raw = whole
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}

// uploadForm 是 multipart 上传表单。
type uploadForm struct {
	File       *multipart.FileHeader `form:"file" validate:"required"`
	Caption    string                `form:"caption"`
	UploadedBy string                `form:"uploaded_by"`
	DayNumber  dayNumber             `form:"day_number"`
}

type journalRequest struct {
	Author    string    `json:"author" form:"author" validate:"max=120"`
	Content   string    `json:"content" form:"content" validate:"required,max=20000"`
	DayNumber dayNumber `json:"day_number" form:"day_number"`
}

type reactionRequest struct {
	TargetType string `json:"target_type" form:"target_type" validate:"required,max=32"`
	TargetID   string `json:"target_id" form:"target_id" validate:"required,max=128"`
	Emoji      string `json:"emoji" form:"emoji" validate:"required,max=32"`
	Author     string `json:"author" form:"author" validate:"max=120"`
}

type captionRequest struct {
	Caption *string `json:"caption" form:"caption" validate:"required"`
}
