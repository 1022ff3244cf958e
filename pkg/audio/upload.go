package audio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/z-wentao/okoshi/pkg/apperr"
)

// Upload 上传请求中需要校验的字段
type Upload struct {
	User     string `validate:"required"`
	Filename string `validate:"required,audioext"`
	Size     int64  `validate:"gt=0"`
}

// UploadValidator 上传参数校验
type UploadValidator struct {
	validate *validator.Validate
	maxSize  int64
}

// NewUploadValidator 创建校验器，maxSize 为字节数
func NewUploadValidator(maxSize int64) *UploadValidator {
	if maxSize <= 0 {
		maxSize = DefaultMaxSizeBytes
	}
	v := validator.New()
	_ = v.RegisterValidation("audioext", func(fl validator.FieldLevel) bool {
		return AllowedExtension(fl.Field().String())
	})
	return &UploadValidator{validate: v, maxSize: maxSize}
}

// Validate 校验上传参数，User 中的换行等控制字符替换为空格并去除首尾空格
// 失败时返回 apperr.ErrValidation，信息可直接展示给用户
func (uv *UploadValidator) Validate(u *Upload) error {
	u.User = strings.TrimSpace(strings.Map(controlToSpace, u.User))

	if err := uv.validate.Struct(u); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return apperr.Validation(uploadMessage(fieldErrs[0], u))
		}
		return apperr.Validation(err.Error())
	}

	if u.Size > uv.maxSize {
		return apperr.Validation(fmt.Sprintf("ファイルサイズが上限（%dMB）を超えています。", uv.maxSize/1024/1024))
	}
	return nil
}

func uploadMessage(fe validator.FieldError, u *Upload) string {
	switch fe.Field() {
	case "User":
		return "登録者名が入力されていません"
	case "Filename":
		if fe.Tag() == "required" {
			return "音声ファイルがアップロードされていません"
		}
		return fmt.Sprintf("許可されていないファイル形式です: %s（対応形式: %s）",
			strings.ToLower(filepath.Ext(u.Filename)), AllowedExtensionList())
	case "Size":
		return "空のファイルです"
	}
	return fmt.Sprintf("入力が不正です: %s", fe.Field())
}

func controlToSpace(r rune) rune {
	if unicode.IsControl(r) {
		return ' '
	}
	return r
}
