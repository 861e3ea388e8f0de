package services

import (
	"math/rand/v2"
	"strconv"
)

// CodeGenerator produces candidate shoot codes. Collisions are handled by the caller.
type CodeGenerator func() string

// RandomCode returns a four digit code between 1000 and 9999.
func RandomCode() string {
	return strconv.Itoa(1000 + rand.IntN(9000))
}
