package detector

import (
	"fmt"
	"strconv"
	"strings"

	"gocv.io/x/gocv"
)

// Device is a parsed device identifier such as "cpu", "cuda:1" or "opencl".
type Device struct {
	Name string
	// Index is the logical GPU index; HasIndex is false for a bare "cuda".
	Index    int
	HasIndex bool
	Backend gocv.NetBackendType
	Target  gocv.NetTargetType
}

// IsCUDA reports whether inference runs on an NVIDIA GPU.
func (d Device) IsCUDA() bool {
	return d.Backend == gocv.NetBackendCUDA
}

func ParseDevice(s string) (Device, error) {
	name, idx, hasIdx := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	d := Device{Name: name}
	if hasIdx {
		i, err := strconv.Atoi(idx)
		if err != nil || i < 0 {
			return Device{}, fmt.Errorf("invalid device index in %q", s)
		}
		d.Index = i
		d.HasIndex = true
	}

	switch name {
	case "cpu":
		d.Backend, d.Target = gocv.NetBackendDefault, gocv.NetTargetCPU
	case "cuda":
		d.Backend, d.Target = gocv.NetBackendCUDA, gocv.NetTargetCUDA
	case "cuda-fp16":
		d.Backend, d.Target = gocv.NetBackendCUDA, gocv.NetTargetCUDAFP16
	case "opencl":
		d.Backend, d.Target = gocv.NetBackendOpenCV, gocv.NetTargetFP32
	case "opencl-fp16":
		d.Backend, d.Target = gocv.NetBackendOpenCV, gocv.NetTargetFP16
	case "vulkan":
		d.Backend, d.Target = gocv.NetBackendVKCOM, gocv.NetTargetVulkan
	default:
		return Device{}, fmt.Errorf("unknown device %q", s)
	}

	if hasIdx && !d.IsCUDA() && d.Index != 0 {
		return Device{}, fmt.Errorf("device %q does not take an index", s)
	}
	return d, nil
}

// VisibleDevices returns the CUDA_VISIBLE_DEVICES value that exposes only
// the device's GPU, given the current mask. The index is logical: with a mask
// of "2,3", "cuda:1" selects GPU 3. ok is false when the variable should be
// left alone.
func VisibleDevices(d Device, mask string, maskSet bool) (value string, ok bool, err error) {
	if !d.IsCUDA() || !d.HasIndex {
		return "", false, nil
	}
	if !maskSet {
		return strconv.Itoa(d.Index), true, nil
	}
	var visible []string
	for _, v := range strings.Split(mask, ",") {
		if v = strings.TrimSpace(v); v != "" {
			visible = append(visible, v)
		}
	}
	if d.Index >= len(visible) {
		return "", false, fmt.Errorf("device %s:%d: CUDA_VISIBLE_DEVICES=%q exposes %d GPUs", d.Name, d.Index, mask, len(visible))
	}
	return visible[d.Index], true, nil
}
