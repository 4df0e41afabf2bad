package handlers

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// CallerIDHeader carries the caller identity used for rate limiting and audit
const CallerIDHeader = "X-Caller-ID"

var callerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,100}$`)

var registerOnce sync.Once

// registerValidators adds the custom binding tags used by request structs.
// It panics when they cannot be registered, since every request carrying
// those tags would otherwise fail validation.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			panic(fmt.Sprintf("handlers: unsupported binding validator %T", binding.Validator.Engine()))
		}
		mustRegisterValidation(v, "callerid", func(fl validator.FieldLevel) bool {
			return callerIDPattern.MatchString(fl.Field().String())
		})
	})
}

func mustRegisterValidation(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("handlers: register %q validator: %v", tag, err))
	}
}

// ValidCallerID reports whether id may be used as a caller identity
func ValidCallerID(id string) bool {
	return callerIDPattern.MatchString(id)
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

func respondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}
