package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var limits = WithdrawalLimits{Min: 600, Max: 1600}

func TestWithdrawalAmount_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("accepted amounts are within bounds and covered by balance", prop.ForAll(
		func(amount, balance int64) bool {
			err := ValidateWithdrawalAmount(amount, balance, limits)
			inRange := amount >= limits.Min && amount <= limits.Max && amount <= balance
			return (err == nil) == inRange
		},
		gen.Int64Range(-100, 3000),
		gen.Int64Range(0, 5000),
	))

	properties.Property("rejections carry the amount field", prop.ForAll(
		func(amount int64) bool {
			err := ValidateWithdrawalAmount(amount, 0, limits)
			var vErr *Error
			return errors.As(err, &vErr) && vErr.Field == "amount"
		},
		gen.Int64Range(1, 5000),
	))

	properties.TestingRun(t)
}

func TestWithdrawalAmount_Boundaries(t *testing.T) {
	assert.NoError(t, ValidateWithdrawalAmount(600, 600, limits))
	assert.NoError(t, ValidateWithdrawalAmount(1600, 1600, limits))
	assert.Error(t, ValidateWithdrawalAmount(599, 1000, limits))
	assert.Error(t, ValidateWithdrawalAmount(1601, 5000, limits))
	assert.Error(t, ValidateWithdrawalAmount(700, 699, limits))
}

func TestBalance_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("non-negative balances only", prop.ForAll(
		func(v int64) bool {
			return (ValidateBalance(v) == nil) == (v >= 0)
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestWithdrawalAccount(t *testing.T) {
	assert.NoError(t, ValidateWithdrawalAccount("Easypaisa", "Ali", "03001234567"))
	assert.NoError(t, ValidateWithdrawalAccount("JazzCash", "Ali", "03001234567"))

	cases := []struct {
		name, method, holder, number, field string
	}{
		{"unknown method", "Bank", "Ali", "03001234567", "method"},
		{"missing name", "Easypaisa", " ", "03001234567", "account_name"},
		{"short number", "Easypaisa", "Ali", "0300123", "account_number"},
		{"letters", "Easypaisa", "Ali", "0300123456a", "account_number"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateWithdrawalAccount(tc.method, tc.holder, tc.number)
			var vErr *Error
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tc.field, vErr.Field)
		})
	}
}

func TestAccountNumber_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("any 11 digit number is accepted", prop.ForAll(
		func(digits string) bool {
			return ValidateWithdrawalAccount("JazzCash", "Ali", digits) == nil
		},
		gen.SliceOfN(11, gen.NumChar()).Map(func(rs []rune) string { return string(rs) }),
	))

	properties.TestingRun(t)
}

func TestInvestmentSubmission(t *testing.T) {
	ok := InvestmentSubmission{
		FullName:      "Ayesha Khan",
		Email:         "a@x.com",
		AccountNumber: "03001234567",
		FileName:      "proof.PNG",
		FileSize:      1024,
	}
	assert.NoError(t, ValidateInvestmentSubmission(ok, 5<<20))

	missingFile := ok
	missingFile.FileSize = 0
	assert.Error(t, ValidateInvestmentSubmission(missingFile, 5<<20))

	tooLarge := ok
	tooLarge.FileSize = 6 << 20
	assert.Error(t, ValidateInvestmentSubmission(tooLarge, 5<<20))

	badExt := ok
	badExt.FileName = "proof.exe"
	assert.Error(t, ValidateInvestmentSubmission(badExt, 5<<20))

	badEmail := ok
	badEmail.Email = "not-an-email"
	assert.Error(t, ValidateInvestmentSubmission(badEmail, 5<<20))

	noName := ok
	noName.FullName = ""
	assert.Error(t, ValidateInvestmentSubmission(noName, 5<<20))
}

func TestPassword(t *testing.T) {
	assert.NoError(t, ValidatePassword("secret1", "secret1"))
	assert.Error(t, ValidatePassword("", ""))
	assert.Error(t, ValidatePassword("abc", "abc"))
	assert.Error(t, ValidatePassword("secret1", "secret2"))

	// bcrypt 只接受 72 字节以内
	longest := strings.Repeat("p", 72)
	assert.NoError(t, ValidatePassword(longest, longest))

	long := strings.Repeat("p", 73)
	var vErr *Error
	require.ErrorAs(t, ValidatePassword(long, long), &vErr)
	assert.Equal(t, "password", vErr.Field)
}

func TestEmail_Length(t *testing.T) {
	local := strings.Repeat("a", 64)
	domain := func(n int) string { return strings.Repeat("b", n) + ".com" }

	// 64 + 1 + 122 + 4 = 191
	assert.NoError(t, ValidateEmail(local+"@"+domain(122)))

	var vErr *Error
	require.ErrorAs(t, ValidateEmail(local+"@"+domain(123)), &vErr)
	assert.Equal(t, "email", vErr.Field)
}
