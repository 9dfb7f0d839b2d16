// Package validation provides request validation helpers for the olynthus API.
package validation

import (
	"math/big"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/ens"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// ChainKey is the gin context key holding the parsed :chain parameter.
const ChainKey = "chain"

var (
	// ethAddressRegex validates Ethereum addresses
	ethAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	// hexRegex validates hex strings (call data, signatures)
	hexRegex = regexp.MustCompile(`^(0x)?[a-fA-F0-9]+$`)
	// amountRegex accepts a non-negative decimal amount
	amountRegex = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
	// integerRegex accepts a non-negative integer
	integerRegex = regexp.MustCompile(`^[0-9]+$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidEthAddress checks if a string is a valid Ethereum address
func IsValidEthAddress(addr string) bool {
	return ethAddressRegex.MatchString(addr)
}

// IsValidHex checks if a string is valid hex
func IsValidHex(s string) bool {
	return hexRegex.MatchString(s)
}

// IsValidURL reports whether s is an absolute URL with a scheme and host.
func IsValidURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// SanitizeAddress normalizes an Ethereum address
func SanitizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.ToLower(addr)

	// Ensure 0x prefix
	if !strings.HasPrefix(addr, "0x") && len(addr) == 40 {
		addr = "0x" + addr
	}

	return addr
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + " " + e[0].Message
}

// Messages renders every error as "<field> <message>".
func (e ValidationErrors) Messages() []string {
	out := make([]string, len(e))
	for i, v := range e {
		out[i] = v.Field + " " + v.Message
	}
	return out
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "should not be empty"}
		}
		return nil
	}
}

// ValidAddress checks if a field is a valid Ethereum address
func ValidAddress(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidEthAddress(value) {
			return &ValidationError{Field: field, Message: "should be valid ethereum address"}
		}
		return nil
	}
}

// RequiredAddress checks that a field is present and a valid address.
func RequiredAddress(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if !IsValidEthAddress(value) {
			return &ValidationError{Field: field, Message: "should be valid ethereum address"}
		}
		return nil
	}
}

// ValidHexData accepts empty call data or a hex string.
func ValidHexData(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" || value == "0x" {
			return nil
		}
		if !IsValidHex(value) {
			return &ValidationError{Field: field, Message: "should be a hex string"}
		}
		return nil
	}
}

// ValidURL accepts an empty value or an absolute URL.
func ValidURL(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidURL(value) {
			return &ValidationError{Field: field, Message: "should be a valid URL"}
		}
		return nil
	}
}

// ValidENS accepts an empty value or a .eth name.
func ValidENS(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !ens.Validate(value) {
			return &ValidationError{Field: field, Message: "should be valid a ENS name"}
		}
		return nil
	}
}

// ValidAmount checks that a field is a non-negative decimal amount such as
// "0", "1.5" or "0.000001".
func ValidAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if !amountRegex.MatchString(value) {
			return &ValidationError{Field: field, Message: "should be a valid numeric value"}
		}
		return nil
	}
}

// ValidInteger checks that a field is a non-negative base-10 integer.
func ValidInteger(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if !integerRegex.MatchString(value) {
			return &ValidationError{Field: field, Message: "should not be empty"}
		}
		return nil
	}
}

// ValidChainID checks that a field is a numeric chain ID.
func ValidChainID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if !integerRegex.MatchString(value) {
			return &ValidationError{Field: field, Message: "should be a valid Chain ID"}
		}
		return nil
	}
}

// DeadlineMillis converts a unix deadline to milliseconds. Ten digits are
// seconds, thirteen are milliseconds; anything else is not a deadline.
func DeadlineMillis(value string) (int64, bool) {
	if !integerRegex.MatchString(value) {
		return 0, false
	}
	v, ok := new(big.Int).SetString(value, 10)
	if !ok || !v.IsInt64() {
		return 0, false
	}
	switch len(value) {
	case 10:
		return v.Int64() * 1000, true
	case 13:
		return v.Int64(), true
	}
	return 0, false
}

// FutureDeadline checks that a field is a unix deadline after now.
func FutureDeadline(field, value string, now time.Time) func() *ValidationError {
	return func() *ValidationError {
		ms, ok := DeadlineMillis(value)
		if !ok || ms <= now.UnixMilli() {
			return &ValidationError{Field: field, Message: "should be a valid future unix epoch time"}
		}
		return nil
	}
}

// ChainParamMiddleware parses the :chain URL parameter and stores it under
// ChainKey. Unsupported chains are rejected with 400.
func ChainParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ch, err := chain.Parse(c.Param("chain"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_chain",
				"message": "chain should be one of ETHEREUM, BSC, POLYGON",
			})
			return
		}
		c.Set(ChainKey, ch)
		c.Next()
	}
}

// ChainFrom returns the chain stored by ChainParamMiddleware.
func ChainFrom(c *gin.Context) chain.Chain {
	if v, ok := c.Get(ChainKey); ok {
		if ch, ok := v.(chain.Chain); ok {
			return ch
		}
	}
	return ""
}
