package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/inflight/engine/core"
)

// check turns a failed vk.Result into an error. Device loss is tagged so
// callers can test for it with errors.Is.
func check(res vk.Result, what string) error {
	if res == vk.Success {
		return nil
	}
	err := errors.Wrap(vk.Error(res), what)
	switch res {
	case vk.ErrorDeviceLost:
		err = core.WithStatus(err, core.ErrDeviceLost)
	case vk.Timeout:
		err = core.WithStatus(err, core.ErrFenceTimeout)
	case vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
		err = core.WithStatus(err, core.ErrDescriptorPoolExhausted)
	}
	return err
}

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	for i := range list {
		list[i] = VulkanSafeString(list[i])
	}
	return list
}

func FindFirstZeroInByteArray(arr []byte) int {
	end := 0
	for i, b := range arr {
		if b == 0 {
			end = i
			break
		}
	}
	return end
}
