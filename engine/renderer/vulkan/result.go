package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/emberengine/ember/engine/renderer/gpu"
)

// ok maps a vk.Result to an error chained to gpu.ErrDevice so callers can
// classify device failures without importing this package.
func ok(res vk.Result, op string) error {
	if res == vk.Success {
		return nil
	}
	return errors.Wrapf(gpu.ErrDevice, "%s: %s", op, vk.Error(res))
}

// stale reports the results that mean the surface no longer matches the
// swapchain. Suboptimal is included: the image is still presentable but the
// generation should be rebuilt.
func stale(res vk.Result) bool {
	return res == vk.ErrorOutOfDate || res == vk.Suboptimal
}
