package validation

import (
	"fmt"
	"net/mail"
	"path/filepath"
	"strings"
)

// ============================================================================
// 统一校验
// ============================================================================
//
// 投资提交、提现申请、收款账户、余额调整、注册密码的规则都在这里。
// 服务层每个写操作入口都先调一次，前端可以复用同一套规则做即时提示，
// 但服务端的校验结果才是准的。
//
// ============================================================================

// Error 校验失败，Field 为出错字段，Message 直接展示给用户
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func newError(field, format string, args ...any) *Error {
	return &Error{Field: field, Message: fmt.Sprintf(format, args...)}
}

const (
	accountNumberLength = 11
	minPasswordLength   = 6
	maxPasswordBytes    = 72  // bcrypt 上限
	maxEmailLength      = 191 // 与 email 列宽一致
)

var allowedScreenshotExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// WithdrawalLimits 单笔提现上下限（含边界）
type WithdrawalLimits struct {
	Min int64
	Max int64
}

// InvestmentSubmission 投资表单
type InvestmentSubmission struct {
	FullName      string
	Email         string
	AccountNumber string
	FileName      string
	FileSize      int64
}

// ValidateInvestmentSubmission 校验投资表单和截图
func ValidateInvestmentSubmission(s InvestmentSubmission, maxUploadBytes int64) error {
	if strings.TrimSpace(s.FullName) == "" {
		return newError("full_name", "姓名不能为空")
	}
	if err := ValidateEmail(s.Email); err != nil {
		return err
	}
	if strings.TrimSpace(s.AccountNumber) == "" {
		return newError("account_number", "转账账号不能为空")
	}
	if s.FileName == "" || s.FileSize <= 0 {
		return newError("screenshot", "请上传付款截图")
	}
	if maxUploadBytes > 0 && s.FileSize > maxUploadBytes {
		return newError("screenshot", "截图不能超过 %d 字节", maxUploadBytes)
	}
	ext := strings.ToLower(filepath.Ext(s.FileName))
	if !allowedScreenshotExts[ext] {
		return newError("screenshot", "不支持的图片格式: %s", ext)
	}
	return nil
}

// ValidateEmail 邮箱必填且格式合法
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return newError("email", "邮箱不能为空")
	}
	if len(email) > maxEmailLength {
		return newError("email", "邮箱不能超过 %d 个字符", maxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return newError("email", "邮箱格式不正确")
	}
	return nil
}

// ValidateWithdrawalAmount 提现金额必须落在 [Min, Max] 且不超过当前余额
func ValidateWithdrawalAmount(amount, balance int64, limits WithdrawalLimits) error {
	if amount < limits.Min {
		return newError("amount", "最低提现金额为 %d PKR", limits.Min)
	}
	if amount > limits.Max {
		return newError("amount", "最高提现金额为 %d PKR", limits.Max)
	}
	if amount > balance {
		return newError("amount", "余额不足，当前余额 %d PKR", balance)
	}
	return nil
}

// ValidateWithdrawalAccount 收款方式仅支持 Easypaisa / JazzCash，账号 11 位数字
func ValidateWithdrawalAccount(method, name, number string) error {
	switch method {
	case "Easypaisa", "JazzCash":
	default:
		return newError("method", "不支持的收款方式: %s", method)
	}
	if strings.TrimSpace(name) == "" {
		return newError("account_name", "收款人姓名不能为空")
	}
	if len(number) != accountNumberLength || !isDigits(number) {
		return newError("account_number", "收款账号必须是 %d 位数字", accountNumberLength)
	}
	return nil
}

// ValidateBalance 管理员改余额不允许负数
func ValidateBalance(value int64) error {
	if value < 0 {
		return newError("total_earnings", "余额不能为负数")
	}
	return nil
}

// ValidatePassword 注册密码
func ValidatePassword(password, confirm string) error {
	if password == "" {
		return newError("password", "密码不能为空")
	}
	if len(password) < minPasswordLength {
		return newError("password", "密码至少 %d 位", minPasswordLength)
	}
	if len(password) > maxPasswordBytes {
		return newError("password", "密码不能超过 %d 字节", maxPasswordBytes)
	}
	if password != confirm {
		return newError("confirm_password", "两次输入的密码不一致")
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
