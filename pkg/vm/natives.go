package vm

import (
	"time"

	"github.com/wisplang/wisp/pkg/object"
)

func clockNative(args []object.Value) (object.Value, error) {
	return object.Number(float64(time.Now().UnixNano()) / 1e9), nil
}
