package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/inflight/engine/config"
	"github.com/spaghettifunk/inflight/engine/core"
	"github.com/spaghettifunk/inflight/engine/platform"
	"github.com/spaghettifunk/inflight/engine/renderer/headless"
	"github.com/spaghettifunk/inflight/engine/renderer/metadata"
	"github.com/spaghettifunk/inflight/engine/renderer/vulkan"
)

func ParseRendererType(s string) (metadata.RendererType, error) {
	switch s {
	case "headless":
		return metadata.RendererTypeHeadless, nil
	case "vulkan":
		return metadata.RendererTypeVulkan, nil
	}
	return metadata.RendererTypeHeadless, errors.Wrapf(core.ErrInvalidConfig, "unknown backend %q", s)
}

// NewBackend creates the graphics backend named by the configuration. It is
// the only place the API is chosen.
func NewBackend(cfg config.Config) (metadata.Backend, error) {
	rt, err := ParseRendererType(cfg.Device.Backend)
	if err != nil {
		return nil, err
	}
	switch rt {
	case metadata.RendererTypeVulkan:
		vr, err := vulkan.New(platform.New(), vulkan.Options{
			ApplicationName: cfg.Testbed.Name,
			Debug:           core.ParseLogLevel(cfg.Log.Level) == core.LogLevelDebug,
			PreferDiscrete:  true,
		})
		if err != nil {
			return nil, err
		}
		return vr, nil
	default:
		hb, err := headless.New(cfg.Headless.GPULatency.Std())
		if err != nil {
			return nil, err
		}
		return hb, nil
	}
}
